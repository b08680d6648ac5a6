package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sakif/rstats-playground/internal/apperror"
)

// Config holds the configuration for local subprocess execution.
type Config struct {
	// Binary is the interpreter executable, looked up on PATH when not
	// absolute.
	Binary string
	// Args precede the script path on the command line.
	Args []string
	// WorkDir is the subprocess working directory.
	WorkDir string
	// ScriptDir receives the transient script files.
	ScriptDir string
	// Timeout bounds every invocation. Zero disables the bound.
	Timeout time.Duration
}

// DefaultConfig provides defaults for an Rscript installation on PATH.
func DefaultConfig(workDir string) Config {
	return Config{
		Binary:    "Rscript",
		Args:      []string{"--no-save", "--no-restore"},
		WorkDir:   workDir,
		ScriptDir: filepath.Join(workDir, ".scripts"),
		Timeout:   60 * time.Second,
	}
}

// LocalRunner runs scripts with an interpreter installed on this host.
type LocalRunner struct {
	config Config
	logger *slog.Logger
}

var _ Runner = (*LocalRunner)(nil)

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner(cfg Config, logger *slog.Logger) *LocalRunner {
	return &LocalRunner{config: cfg, logger: logger}
}

// Run writes script to a temporary file, runs the interpreter on it and
// removes the file again, whatever the outcome.
func (r *LocalRunner) Run(ctx context.Context, script string) (*Output, error) {
	path, cleanup, err := WriteScript(r.config.ScriptDir, script)
	if err != nil {
		return nil, apperror.ProcessSpawn("preparing script", err)
	}
	defer cleanup()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.config.Args...), path)
	// #nosec G204 -- binary comes from configuration, the script is a file
	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	cmd.Dir = r.config.WorkDir
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("interpreter did not finish",
			slog.String("binary", r.config.Binary),
			slog.Duration("elapsed", elapsed),
			slog.String("error", ctxErr.Error()),
		)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, apperror.ProcessSpawn(
				fmt.Sprintf("execution exceeded the %s time limit", r.config.Timeout), ctxErr)
		}
		return nil, apperror.ProcessSpawn("execution was cancelled", ctxErr)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, apperror.ProcessSpawn(fmt.Sprintf("starting %s", r.config.Binary), err)
		}
		exitCode = exitErr.ExitCode()
		if exitCode < 0 {
			// Killed by a signal: there is no script outcome to report.
			return nil, apperror.ProcessSpawn("interpreter terminated abnormally", err)
		}
	}

	r.logger.Debug("interpreter finished",
		slog.Int("exitCode", exitCode),
		slog.Duration("duration", elapsed),
		slog.Int("stdoutBytes", stdout.Len()),
		slog.Int("stderrBytes", stderr.Len()),
	)

	return &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}
