package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/model"
	"github.com/sakif/rstats-playground/internal/repository"
)

// Compile-time check that *DB implements repository.ExecutionRepository.
var _ repository.ExecutionRepository = (*DB)(nil)

const executionColumns = `id, session_id, code, mode, text_output, error_message,
	exit_code, artifact_count, duration_ms, created_at`

// Create inserts an execution record.
//
// The executor already assigns an id to every result, so an ID set by the
// caller is kept and only a missing one is generated. Inserting the same
// id twice is a Conflict.
func (db *DB) Create(ctx context.Context, execution *model.Execution) error {
	if execution.ID == "" {
		execution.ID = xid.New().String()
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.ID,
		execution.SessionID,
		execution.Code,
		execution.Mode,
		execution.TextOutput,
		execution.ErrorMessage,
		execution.ExitCode,
		execution.ArtifactCount,
		execution.Duration.Milliseconds(),
		execution.CreatedAt,
	)
	if err != nil {
		if exists, _ := db.exists(ctx, execution.ID); exists {
			return apperror.Conflict("execution", execution.ID)
		}
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}

	return nil
}

// GetByID retrieves a single execution by its ID.
// sql.ErrNoRows becomes apperror.NotFound so the handler can answer 404.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 WHERE id = ?`,
		id,
	)

	execution, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}

	return execution, nil
}

// ListBySession returns a session's executions, newest first.
//
// Page size defaults to 20 and is capped at 100, like every other list in
// the API. An unknown session is an empty page, not an error.
func (db *DB) ListBySession(ctx context.Context, sessionID string, opts repository.ListOptions) ([]model.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	// rowid breaks ties between executions recorded in the same instant.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ? OFFSET ?`,
		sessionID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	executions := make([]model.Execution, 0, limit)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}

	return executions, nil
}

// DeleteBySession removes a session's history and reports how many rows
// went. Deleting an empty history is not an error; reset is idempotent.
func (db *DB) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM executions WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting executions of %s: %w", sessionID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

func (db *DB) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.Execution, error) {
	var (
		e          model.Execution
		durationMS int64
	)
	if err := s.Scan(
		&e.ID,
		&e.SessionID,
		&e.Code,
		&e.Mode,
		&e.TextOutput,
		&e.ErrorMessage,
		&e.ExitCode,
		&e.ArtifactCount,
		&durationMS,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return &e, nil
}
