// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the R harness, the
// history database, handlers, middleware and routes, and it owns their
// lifecycle:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - What happens to session workspaces when the process starts and stops
//
// DEPENDENCY INJECTION FLOW:
// main.go builds a Config from the environment. Server.New creates:
//
//	sqlite.DB ─────────────────────────────┐
//	process.Runner → rscript.Executor ─────┴→ ExecutionService → handlers
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sakif/rstats-playground/internal/executor/docker"
	"github.com/sakif/rstats-playground/internal/executor/process"
	"github.com/sakif/rstats-playground/internal/executor/rscript"
	"github.com/sakif/rstats-playground/internal/handler"
	"github.com/sakif/rstats-playground/internal/middleware"
	sqliteRepo "github.com/sakif/rstats-playground/internal/repository/sqlite"
	"github.com/sakif/rstats-playground/internal/service"
)

// Runner backends.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Config holds server configuration.
type Config struct {
	Port   int
	DBPath string
	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string

	// Executor configures the R harness: data root, durable snapshot
	// directory, default variable, concurrency bound, preloaded packages.
	Executor rscript.Config
	// Runner selects how R is started: RunnerLocal or RunnerDocker.
	Runner string
	Local  process.Config
	Docker docker.Config

	// ExecTimeout is the per-interpreter budget. The HTTP write timeout is
	// derived from it (see writeTimeout).
	ExecTimeout time.Duration
	// ShutdownTimeout bounds draining requests and running interpreters.
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection, the interpreter pool and, for
// the docker backend, a pool of warm containers. Start releases them in
// reverse order of creation after the HTTP server has drained.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	exec   *rscript.Executor
	runner process.Runner
}

// New creates a new Server with the given config.
//
// DEPENDENCY INJECTION & WIRING:
//  1. Open the history database (sqlite.New)
//  2. Start the runner backend (local Rscript or docker containers)
//  3. Build the harness (rscript.New) on top of the runner
//  4. Build the service with the harness and the repository
//  5. Wire handlers to routes
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === CREATE RUNNER ===
	runner, err := newRunner(cfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	// === CREATE HARNESS ===
	exec, err := rscript.New(cfg.Executor, runner, logger)
	if err != nil {
		closeRunner(runner)
		db.Close()
		return nil, fmt.Errorf("creating executor: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		exec:   exec,
		runner: runner,
	}

	s.setupRoutes()

	return s, nil
}

func newRunner(cfg Config, logger *slog.Logger) (process.Runner, error) {
	switch cfg.Runner {
	case "", RunnerLocal:
		return process.NewLocalRunner(cfg.Local, logger), nil
	case RunnerDocker:
		return docker.New(cfg.Docker, logger)
	default:
		return nil, fmt.Errorf("unknown runner %q (want %q or %q)", cfg.Runner, RunnerLocal, RunnerDocker)
	}
}

// closeRunner releases backends that hold resources (docker does).
func closeRunner(r process.Runner) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Handler returns the router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                                  → liveness (JSON)
// GET    /artifacts/*                              → interactive documents (HTML)
// POST   /api/execute                              → run in the default session
// POST   /api/sessions/{sessionID}/execute         → run in a named session
// DELETE /api/sessions/{sessionID}/workspace       → reset workspace + history
// GET    /api/sessions/{sessionID}/schema          → describe a variable
// GET    /api/sessions/{sessionID}/executions      → history, newest first
// GET    /api/executions/{id}                      → one recorded execution
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, so the logger can print it
// 2. RealIP, so logs show the client and not the proxy
// 3. Recoverer, so a panic in a handler is a 500 and not a dead server
// 4. CORS, before routing, so preflight requests never reach a handler
// 5. Logger, last, so it sees the final status code
func (s *Server) setupRoutes() {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}).Handler)

	s.router.Use(middleware.Logger(s.logger, s.config.ExecTimeout/2))

	// === DEPENDENCY CHAIN ===
	//   s.exec (rscript.Executor) → implements executor.Executor
	//   s.db (sqlite.DB)          → implements repository.ExecutionRepository
	//   ExecutionService receives both interfaces
	//   Handlers receive the service
	executionService := service.NewExecutionService(s.exec, s.db, s.logger)
	executeHandler := handler.NewExecuteHandler(executionService, s.logger)
	sessionHandler := handler.NewSessionHandler(executionService, s.logger)
	artifactHandler := handler.NewArtifactHandler(s.exec.ArtifactDir(), s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Get("/artifacts/*", artifactHandler.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/execute", executeHandler.HandleExecute)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/execute", executeHandler.HandleSessionExecute)
			r.Delete("/workspace", sessionHandler.HandleReset)
			r.Get("/schema", sessionHandler.HandleSchema)
			r.Get("/executions", sessionHandler.HandleHistory)
		})

		r.Get("/executions/{id}", sessionHandler.HandleGetExecution)
	})
}

// responseHeadroom covers waiting for the session lock and a pool slot,
// artifact extraction and writing the response.
const responseHeadroom = 30 * time.Second

// writeTimeout bounds one response. An execution with refreshSchema runs
// the interpreter twice, each run with its own ExecTimeout budget.
func (s *Server) writeTimeout() time.Duration {
	return 2*s.config.ExecTimeout + responseHeadroom
}

// Start restores session workspaces, serves HTTP and shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests (and the interpreters they started)
// 3. Copy session snapshots to durable storage
// 4. Release the interpreter pool and the runner backend
// 5. Close the database connection (flushes WAL, releases file lock)
//
// Snapshots are persisted only after the drain, so the copy includes
// whatever the last in-flight execution saved.
func (s *Server) Start() error {
	defer s.Close()

	s.exec.Workspaces().RestoreOnStartup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("runner", s.config.Runner),
			slog.String("data_root", s.config.Executor.DataRoot),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")

		if err := s.exec.Workspaces().PersistOnShutdown(); err != nil {
			s.logger.Warn("some workspaces were not persisted", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Close releases the interpreter pool, the runner backend and the
// database. Start calls it on return; tests call it directly.
func (s *Server) Close() error {
	var errs []error
	if err := s.exec.Close(s.config.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := closeRunner(s.runner); err != nil {
		errs = append(errs, fmt.Errorf("closing runner: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
