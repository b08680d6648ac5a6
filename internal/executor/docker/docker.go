// Package docker runs composed R scripts inside pre-warmed Docker
// containers. It implements process.Runner, so the harness treats it the
// same way as a local interpreter.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor/process"
)

// Runner implements process.Runner using Docker.
type Runner struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

var _ process.Runner = (*Runner)(nil)

// New creates a Runner, pulls the image and starts the container pool.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Drain to block until the pull is complete.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	logger.Info("docker image is ready")

	r := &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
	}
	r.pool = NewPool(cli, cfg, logger)
	r.pool.Start()

	return r, nil
}

// Close shuts down the pool and docker client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Run executes script with Rscript in a container from the pool.
func (r *Runner) Run(ctx context.Context, script string) (*process.Output, error) {
	start := time.Now()

	path, cleanup, err := process.WriteScript(r.config.ScriptDir, script)
	if err != nil {
		return nil, apperror.ProcessSpawn("preparing script", err)
	}
	defer cleanup()

	executeCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		executeCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	containerID, err := r.pool.Acquire(executeCtx)
	if err != nil {
		return nil, apperror.ProcessSpawn("no interpreter container available", err)
	}
	defer r.pool.Release(containerID)

	execResp, err := r.cli.ContainerExecCreate(executeCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   r.config.DataRoot,
		Cmd:          []string{"Rscript", "--no-save", "--no-restore", path},
	})
	if err != nil {
		return nil, apperror.ProcessSpawn("creating exec", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, apperror.ProcessSpawn("attaching to exec", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, apperror.ProcessSpawn("reading interpreter output", err)
		}
	case <-executeCtx.Done():
		// The container is force-removed on Release, which stops the script.
		ctxErr := executeCtx.Err()
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, apperror.ProcessSpawn(
				fmt.Sprintf("execution exceeded the %s time limit", r.config.Timeout), ctxErr)
		}
		return nil, apperror.ProcessSpawn("execution was cancelled", ctxErr)
	}

	inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inspectResp, err := r.cli.ContainerExecInspect(inspectCtx, execResp.ID)
	if err != nil {
		return nil, apperror.ProcessSpawn("inspecting exec", err)
	}

	r.logger.Debug("container script finished",
		slog.String("container", shortID(containerID)),
		slog.Int("exitCode", inspectResp.ExitCode),
		slog.Duration("duration", time.Since(start)),
	)

	return &process.Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspectResp.ExitCode,
		Duration: time.Since(start),
	}, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
