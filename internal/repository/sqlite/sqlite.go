// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// Execution history is append-mostly, small, and local to one server. An
// embedded database keeps it next to the workspaces it describes, with no
// separate server to run.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of the SQLite C code, so the
// server and the rexec CLI cross-compile without a C toolchain.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/playground.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (great for tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a separate, empty database.
	// Pin the pool to one connection so all queries see the same tables.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode lets history reads proceed while an execution is being recorded.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Concurrent executions in different sessions record at the same time;
	// wait for the write lock instead of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start. Columns added
// later go through addColumnIfNotExists so existing databases upgrade in
// place.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			code          TEXT NOT NULL,
			mode          TEXT NOT NULL DEFAULT 'plain',
			text_output   TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			exit_code     INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_session_created
			ON executions(session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating executions table: %w", err)
	}

	// Added with plot and document support.
	if err := db.addColumnIfNotExists("executions", "artifact_count",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding artifact_count to executions: %w", err)
	}
	if err := db.addColumnIfNotExists("executions", "duration_ms",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding duration_ms to executions: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so they can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
