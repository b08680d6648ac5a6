package workspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "root")
	durable := filepath.Join(t.TempDir(), "durable")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m, err := New(root, durable, logger)
	require.NoError(t, err)
	return m, root, durable
}

// writeSnapshot simulates the interpreter saving a workspace.
func writeSnapshot(t *testing.T, m *Manager, session, content string) {
	t.Helper()
	require.NoError(t, m.Prepare(session))
	require.NoError(t, os.WriteFile(m.SnapshotPath(session), []byte(content), 0o644))
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("abc"), Key("abc"))
	assert.NotEqual(t, Key("abc"), Key("abd"))
	assert.Len(t, Key("../../etc/passwd"), 32)
	assert.NotContains(t, Key("../../etc/passwd"), "/")
}

func TestSnapshotPath_StaysUnderRoot(t *testing.T) {
	m, root, _ := newTestManager(t)

	path := m.SnapshotPath("../../escape")

	rel, err := filepath.Rel(root, path)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}

func TestLoad(t *testing.T) {
	m, _, _ := newTestManager(t)

	path, ok := m.Load("s1")
	assert.False(t, ok, "fresh session has no snapshot")
	assert.Equal(t, m.SnapshotPath("s1"), path)

	writeSnapshot(t, m, "s1", "RDX3")

	path, ok = m.Load("s1")
	assert.True(t, ok)
	assert.Equal(t, m.SnapshotPath("s1"), path)
}

func TestReset_Idempotent(t *testing.T) {
	m, _, _ := newTestManager(t)

	// No snapshot yet: twice in a row.
	require.NoError(t, m.Reset("s1"))
	require.NoError(t, m.Reset("s1"))

	// With a snapshot: twice in a row.
	writeSnapshot(t, m, "s1", "RDX3")
	require.NoError(t, m.Reset("s1"))
	require.NoError(t, m.Reset("s1"))

	_, ok := m.Load("s1")
	assert.False(t, ok)
}

func TestReset_OnlyTouchesOneSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	writeSnapshot(t, m, "keep", "a")
	writeSnapshot(t, m, "drop", "b")

	require.NoError(t, m.Reset("drop"))

	_, ok := m.Load("keep")
	assert.True(t, ok)
	_, ok = m.Load("drop")
	assert.False(t, ok)
}

func TestSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	writeSnapshot(t, m, "beta", "b")
	writeSnapshot(t, m, "alpha", "a")
	// Prepared but never saved: not a session with state.
	require.NoError(t, m.Prepare("gamma"))

	ids, err := m.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestPersistAndRestore(t *testing.T) {
	m, root, durable := newTestManager(t)
	writeSnapshot(t, m, "conv-1", "snapshot-one")
	writeSnapshot(t, m, "conv-2", "snapshot-two")

	require.NoError(t, m.PersistOnShutdown())

	// Simulate a restart: transient state is gone.
	require.NoError(t, os.RemoveAll(root))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	restarted, err := New(root, durable, logger)
	require.NoError(t, err)

	restarted.RestoreOnStartup()

	for id, want := range map[string]string{"conv-1": "snapshot-one", "conv-2": "snapshot-two"} {
		path, ok := restarted.Load(id)
		require.True(t, ok, id)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestRestoreOnStartup_NeverFails(t *testing.T) {
	m, _, durable := newTestManager(t)

	// A stray id file whose key does not match, and one without a snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(durable, "deadbeef.session"), []byte("other"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(durable, Key("lost")+".session"), []byte("lost"), 0o644))

	assert.NotPanics(t, m.RestoreOnStartup)

	_, ok := m.Load("lost")
	assert.False(t, ok)
}

func TestRestoreOnStartup_MissingDurableDir(t *testing.T) {
	m, _, durable := newTestManager(t)
	require.NoError(t, os.RemoveAll(durable))

	assert.NotPanics(t, m.RestoreOnStartup)
}

func TestReset_RemovesDurableCopy(t *testing.T) {
	m, _, durable := newTestManager(t)
	writeSnapshot(t, m, "s1", "x")
	require.NoError(t, m.PersistOnShutdown())

	require.NoError(t, m.Reset("s1"))

	_, err := os.Stat(filepath.Join(durable, Key("s1")+".RData"))
	assert.True(t, os.IsNotExist(err))
}

func TestLock_SerialisesOneSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("shared")
			defer unlock()
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLock_SessionsIndependent(t *testing.T) {
	m, _, _ := newTestManager(t)

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on session b blocked behind session a")
	}
}

func readSnapshot(t *testing.T, m *Manager, session string) string {
	t.Helper()
	path, ok := m.Load(session)
	require.True(t, ok, session)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRestoreOnStartup_KeepsNewerTransient(t *testing.T) {
	m, _, durable := newTestManager(t)
	writeSnapshot(t, m, "s1", "OLD")
	require.NoError(t, m.PersistOnShutdown())

	// The process kept running and was then killed before the next persist.
	writeSnapshot(t, m, "s1", "NEWER")
	info, err := os.Stat(filepath.Join(durable, Key("s1")+".RData"))
	require.NoError(t, err)
	later := info.ModTime().Add(time.Minute)
	require.NoError(t, os.Chtimes(m.SnapshotPath("s1"), later, later))

	m.RestoreOnStartup()

	assert.Equal(t, "NEWER", readSnapshot(t, m, "s1"))
}

func TestRestoreOnStartup_ReplacesOlderTransient(t *testing.T) {
	m, _, durable := newTestManager(t)
	writeSnapshot(t, m, "s1", "DURABLE")
	require.NoError(t, m.PersistOnShutdown())

	writeSnapshot(t, m, "s1", "STALE")
	info, err := os.Stat(filepath.Join(durable, Key("s1")+".RData"))
	require.NoError(t, err)
	earlier := info.ModTime().Add(-time.Minute)
	require.NoError(t, os.Chtimes(m.SnapshotPath("s1"), earlier, earlier))

	m.RestoreOnStartup()

	assert.Equal(t, "DURABLE", readSnapshot(t, m, "s1"))
}

func TestLock_EntriesPruned(t *testing.T) {
	m, _, _ := newTestManager(t)

	for _, id := range []string{"a", "b", "c"} {
		unlock := m.Lock(id)
		unlock()
	}

	held := m.Lock("held")
	waiting := make(chan struct{})
	go func() {
		unlock := m.Lock("held")
		unlock()
		close(waiting)
	}()

	// The waiter keeps the entry alive until it is done.
	time.Sleep(10 * time.Millisecond)
	held()
	<-waiting

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}
