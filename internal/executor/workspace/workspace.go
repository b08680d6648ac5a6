// Package workspace manages persisted interpreter sessions.
//
// Each session owns one snapshot file under the transient root. Snapshots
// are written by the composed script itself at the end of every run; this
// package decides where they live, serialises access per session, and
// copies them to and from durable storage across process restarts.
//
// Layout:
//
//	<root>/sessions/<key>/workspace.RData    transient snapshot
//	<root>/sessions/<key>/session            plain-text session id
//	<durable>/<key>.RData                    durable copy
//	<durable>/<key>.session                  plain-text session id
//
// key is a hex BLAKE2b digest of the session id, so client-chosen ids never
// become path components.
package workspace

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const (
	snapshotName  = "workspace.RData"
	sessionIDName = "session"
	durableExt    = ".RData"
	durableIDExt  = ".session"
)

// Manager owns the snapshot files of all sessions.
type Manager struct {
	root    string
	durable string
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from the map once nobody holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Manager rooted at root. durable may be empty to disable
// durable copies.
func New(root, durable string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(root, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating root: %w", err)
	}
	if durable != "" {
		if err := os.MkdirAll(durable, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: creating durable dir: %w", err)
		}
	}
	return &Manager{
		root:    root,
		durable: durable,
		logger:  logger,
		locks:   make(map[string]*sessionLock),
	}, nil
}

// Key returns the directory key for a session id.
func Key(sessionID string) string {
	sum := blake2b.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}

// Root returns the transient root directory.
func (m *Manager) Root() string {
	return m.root
}

// SessionDir returns the directory holding a session's snapshot.
func (m *Manager) SessionDir(sessionID string) string {
	return filepath.Join(m.root, "sessions", Key(sessionID))
}

// SnapshotPath returns where a session's snapshot is saved.
func (m *Manager) SnapshotPath(sessionID string) string {
	return filepath.Join(m.SessionDir(sessionID), snapshotName)
}

// Lock serialises executions against one session and returns the unlock
// func. Different sessions never block each other.
func (m *Manager) Lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

// Prepare creates the session directory so the script can save into it,
// and records the session id next to the snapshot.
func (m *Manager) Prepare(sessionID string) error {
	dir := m.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: creating session dir: %w", err)
	}
	idPath := filepath.Join(dir, sessionIDName)
	if _, err := os.Stat(idPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(idPath, []byte(sessionID), 0o644); err != nil {
			return fmt.Errorf("workspace: recording session id: %w", err)
		}
	}
	return nil
}

// Load reports the snapshot path and whether it exists. When it does not,
// the next script starts from an empty environment.
func (m *Manager) Load(sessionID string) (string, bool) {
	path := m.SnapshotPath(sessionID)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

// Reset deletes the session snapshot and its durable copy. Resetting a
// session without a snapshot is a no-op.
func (m *Manager) Reset(sessionID string) error {
	if err := os.RemoveAll(m.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("workspace: resetting session: %w", err)
	}
	if m.durable != "" {
		key := Key(sessionID)
		for _, name := range []string{key + durableExt, key + durableIDExt} {
			if err := os.Remove(filepath.Join(m.durable, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("workspace: removing durable copy: %w", err)
			}
		}
	}
	m.logger.Info("workspace reset", slog.String("session", sessionID))
	return nil
}

// Sessions lists the ids of sessions that currently have a snapshot.
func (m *Manager) Sessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("workspace: listing sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, "sessions", e.Name())
		if _, err := os.Stat(filepath.Join(dir, snapshotName)); err != nil {
			continue
		}
		id, err := os.ReadFile(filepath.Join(dir, sessionIDName))
		if err != nil {
			continue
		}
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids, nil
}

// PersistOnShutdown copies every transient snapshot to durable storage.
// It attempts all sessions and returns the joined errors.
func (m *Manager) PersistOnShutdown() error {
	if m.durable == "" {
		return nil
	}
	ids, err := m.Sessions()
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		unlock := m.Lock(id)
		key := Key(id)
		err := copyFile(m.SnapshotPath(id), filepath.Join(m.durable, key+durableExt))
		if err == nil {
			err = writeFileAtomic(filepath.Join(m.durable, key+durableIDExt), []byte(id))
		}
		unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	m.logger.Info("workspaces persisted",
		slog.Int("sessions", len(ids)-len(errs)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// RestoreOnStartup copies durable snapshots back into the transient root.
// A transient snapshot at least as new as its durable copy is kept: after a
// crash, shutdown never persisted and the transient file holds the later
// state. Failures are logged and skipped; startup always continues.
func (m *Manager) RestoreOnStartup() {
	if m.durable == "" {
		return
	}
	entries, err := os.ReadDir(m.durable)
	if err != nil {
		m.logger.Warn("workspace restore skipped", slog.String("error", err.Error()))
		return
	}

	restored, kept := 0, 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), durableIDExt) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), durableIDExt)
		id, err := os.ReadFile(filepath.Join(m.durable, e.Name()))
		if err != nil || Key(string(id)) != key {
			m.logger.Warn("skipping unreadable durable session", slog.String("file", e.Name()))
			continue
		}
		sessionID := string(id)
		src := filepath.Join(m.durable, key+durableExt)
		if !m.staleTransient(sessionID, src) {
			kept++
			continue
		}
		if err := m.Prepare(sessionID); err != nil {
			m.logger.Warn("workspace restore failed", slog.String("session", sessionID), slog.String("error", err.Error()))
			continue
		}
		if err := copyFile(src, m.SnapshotPath(sessionID)); err != nil {
			m.logger.Warn("workspace restore failed", slog.String("session", sessionID), slog.String("error", err.Error()))
			continue
		}
		restored++
	}
	m.logger.Info("workspaces restored",
		slog.Int("sessions", restored),
		slog.Int("kept_newer", kept),
	)
}

// staleTransient reports whether the durable copy at src should replace the
// session's transient snapshot: the transient one is missing or older.
func (m *Manager) staleTransient(sessionID, src string) bool {
	cur, err := os.Stat(m.SnapshotPath(sessionID))
	if err != nil || cur.IsDir() {
		return true
	}
	durable, err := os.Stat(src)
	if err != nil {
		// Let copyFile report the missing durable copy.
		return true
	}
	return cur.ModTime().Before(durable.ModTime())
}

// copyFile copies src over dst atomically.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
