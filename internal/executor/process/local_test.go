package process_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor/process"
)

// fakeInterpreter writes a shell script standing in for Rscript. The
// composed script path arrives as $1.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-rscript")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newRunner(t *testing.T, binary string, timeout time.Duration) (*process.LocalRunner, string) {
	t.Helper()
	work := t.TempDir()
	cfg := process.Config{
		Binary:    binary,
		WorkDir:   work,
		ScriptDir: filepath.Join(work, ".scripts"),
		Timeout:   timeout,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return process.NewLocalRunner(cfg, logger), cfg.ScriptDir
}

func TestLocalRunner(t *testing.T) {
	t.Run("captures stdout stderr and exit code", func(t *testing.T) {
		bin := fakeInterpreter(t, `cat "$1"; echo "warning: careful" >&2; exit 3`)
		runner, _ := newRunner(t, bin, 5*time.Second)

		out, err := runner.Run(context.Background(), "cat('hello')\n")
		require.NoError(t, err)
		assert.Equal(t, "cat('hello')\n", out.Stdout)
		assert.Equal(t, "warning: careful\n", out.Stderr)
		assert.Equal(t, 3, out.ExitCode)
		assert.Greater(t, out.Duration, time.Duration(0))
	})

	t.Run("runs in the work dir", func(t *testing.T) {
		bin := fakeInterpreter(t, `pwd`)
		runner, scriptDir := newRunner(t, bin, 5*time.Second)

		out, err := runner.Run(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, filepath.Dir(scriptDir), strings.TrimSpace(out.Stdout))
	})

	t.Run("removes the script file on success", func(t *testing.T) {
		bin := fakeInterpreter(t, `exit 0`)
		runner, scriptDir := newRunner(t, bin, 5*time.Second)

		_, err := runner.Run(context.Background(), "x <- 1")
		require.NoError(t, err)

		entries, err := os.ReadDir(scriptDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("timeout is a spawn error and still removes the script", func(t *testing.T) {
		bin := fakeInterpreter(t, `exec sleep 5`)
		runner, scriptDir := newRunner(t, bin, 100*time.Millisecond)

		out, err := runner.Run(context.Background(), "while (TRUE) {}")
		assert.Nil(t, out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrProcessSpawn))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Contains(t, err.Error(), "time limit")

		entries, err := os.ReadDir(scriptDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("missing interpreter is a spawn error", func(t *testing.T) {
		runner, _ := newRunner(t, "rscript-that-does-not-exist-7f3a", time.Second)

		_, err := runner.Run(context.Background(), "1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrProcessSpawn))
		assert.True(t, errors.Is(err, exec.ErrNotFound))
	})
}

func TestWriteScript_UniqueNames(t *testing.T) {
	dir := t.TempDir()

	const n = 50
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path, _, err := process.WriteScript(dir, "x")
			assert.NoError(t, err)
			paths[i] = path
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate script path %s", p)
		seen[p] = true
	}
}

func TestWriteScript_Cleanup(t *testing.T) {
	dir := t.TempDir()

	path, cleanup, err := process.WriteScript(dir, "y <- 2")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "y <- 2", string(data))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
