// Package main is the entry point for the R playground server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars)
// 2. Create the logger and the directories the server writes to
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/service, internal/executor/...).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points. This
// project has two: cmd/server (HTTP API) and cmd/rexec (command line).
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/rstats-playground/internal/config"
	"github.com/sakif/rstats-playground/internal/server"
	"github.com/sakif/rstats-playground/internal/version"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Every setting comes from an environment variable with a default; see
	// internal/config for the list. A malformed value is fatal: starting
	// with a silently different timeout or runner is worse than not
	// starting.
	settings, err := config.FromEnv(os.Getenv)

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL picks the level (debug by default). The logger exists even
	// when configuration failed, so the failure itself is logged properly.
	logger := config.NewLogger(os.Stdout, settings.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. CREATE DIRECTORIES ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	// The workspace and durable directories are created by the workspace
	// manager; only the database directory is ours.
	dbDir := filepath.Dir(settings.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 4. CREATE AND START THE SERVER ===
	// With RUNNER=docker this pulls the image and warms the container pool,
	// which can take minutes on first start.
	logger.Info("starting rstats playground", slog.String("version", version.String()))

	srv, err := server.New(settings.Server(), logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
