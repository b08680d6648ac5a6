// Package process runs composed R scripts as non-interactive interpreter
// subprocesses.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Output is what one interpreter invocation produced. A non-zero ExitCode
// is a normal outcome, not an error.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes a complete script. Implementations return an
// apperror.ErrProcessSpawn error when the interpreter cannot be started,
// crashes without an exit status, or exceeds its time budget.
type Runner interface {
	Run(ctx context.Context, script string) (*Output, error)
}

var scriptCounter atomic.Uint64

// WriteScript writes script to a uniquely named file in dir and returns
// its path with a cleanup func that removes it. Names combine a timestamp
// with a process-wide counter, so concurrent writers never collide.
func WriteScript(dir, script string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("process: creating script dir: %w", err)
	}
	name := fmt.Sprintf("script_%d_%d.R", time.Now().UnixNano(), scriptCounter.Add(1))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return "", nil, fmt.Errorf("process: writing script: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}
