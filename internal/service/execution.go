// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// ExecutionService sits between two dependencies instead of one: the
// executor, which runs R, and the repository, which remembers what ran.
// Both are interfaces, so tests pass in-memory fakes for each and the
// rexec CLI can use the same service without an HTTP server.
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  DB, Executor → ExecutionService → Handler
//	At runtime:       Handler calls Service calls Executor, then Repository
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/model"
	"github.com/sakif/rstats-playground/internal/repository"
)

// Validation constants.
const (
	MaxCodeLength    = 100000 // ~100KB of R
	MaxSessionLength = 64
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// sessionPattern restricts session ids to characters that are safe in URLs
// and log lines. Workspace directories are keyed by a hash of the id, so
// this is not what keeps sessions apart on disk.
var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ExecutionService validates, runs and records snippet executions.
type ExecutionService struct {
	exec   executor.Executor
	repo   repository.ExecutionRepository
	logger *slog.Logger
}

// NewExecutionService creates a new ExecutionService.
// repo may be nil, in which case nothing is recorded (the CLI runs this way
// when no history database is configured).
func NewExecutionService(exec executor.Executor, repo repository.ExecutionRepository, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		exec:   exec,
		repo:   repo,
		logger: logger,
	}
}

// Execute validates the request, runs it and records the outcome.
//
// A snippet that fails in R is still a successful call: the result carries
// the error message and the history row is written. Only validation errors
// and interpreter failures come back as errors, and those are not recorded.
//
// Recording is best effort. A history write that fails is logged and the
// result is returned anyway; the caller should not lose a plot because the
// database was busy.
func (s *ExecutionService) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	// === VALIDATION ===
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := ValidateSession(req.SessionID, true); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, apperror.ValidationFailed("sourceCode", "source code is required")
	}
	if len(req.SourceCode) > MaxCodeLength {
		return nil, apperror.ValidationFailed("sourceCode",
			fmt.Sprintf("source code must be %d characters or less", MaxCodeLength))
	}
	if !req.OutputMode.Valid() {
		return nil, apperror.ValidationFailed("outputMode",
			fmt.Sprintf("output mode must be %q or %q", executor.ModePlain, executor.ModePlot))
	}
	req.TargetVariable = strings.TrimSpace(req.TargetVariable)

	// === RUN ===
	result, err := s.exec.Execute(ctx, req)
	if err != nil {
		s.logger.Error("execution failed",
			slog.String("session", req.Session()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// === RECORD ===
	s.record(ctx, req, result)

	return result, nil
}

func (s *ExecutionService) record(ctx context.Context, req executor.ExecutionRequest, result *executor.ExecutionResult) {
	if s.repo == nil {
		return
	}

	record := &model.Execution{
		ID:            result.ExecutionID,
		SessionID:     req.Session(),
		Code:          req.SourceCode,
		Mode:          string(req.Mode()),
		TextOutput:    result.TextOutput,
		ExitCode:      result.ExitCode,
		ArtifactCount: len(result.Artifacts),
		Duration:      result.Duration,
	}
	if result.ErrorMessage != nil {
		record.ErrorMessage = *result.ErrorMessage
	}

	// The request context may already be cancelled if the client went
	// away while R was running; the history row is still wanted.
	if err := s.repo.Create(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("failed to record execution",
			slog.String("id", result.ExecutionID),
			slog.String("session", record.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("execution recorded",
		slog.String("id", record.ID),
		slog.String("session", record.SessionID),
	)
}

// Reset discards the session's workspace and its history. Resetting a
// session that never ran is not an error.
func (s *ExecutionService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if err := ValidateSession(sessionID, false); err != nil {
		return err
	}

	if err := s.exec.Reset(ctx, sessionID); err != nil {
		s.logger.Error("failed to reset workspace",
			slog.String("session", sessionID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("resetting workspace: %w", err)
	}

	var removed int64
	if s.repo != nil {
		n, err := s.repo.DeleteBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("clearing history: %w", err)
		}
		removed = n
	}

	s.logger.Info("session reset",
		slog.String("session", sessionID),
		slog.Int64("history_removed", removed),
	)
	return nil
}

// Schema describes a variable in the session without running any user
// code. An empty variable means the executor's default.
func (s *ExecutionService) Schema(ctx context.Context, sessionID, variable string) (*executor.Schema, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := ValidateSession(sessionID, false); err != nil {
		return nil, err
	}

	schema, err := s.exec.Introspect(ctx, sessionID, strings.TrimSpace(variable))
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// History lists a session's executions, newest first.
//
// limit is clamped to 1-100 (default 20) and a negative offset is treated
// as zero, the same rules every list endpoint follows.
func (s *ExecutionService) History(ctx context.Context, sessionID string, limit, offset int) ([]model.Execution, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := ValidateSession(sessionID, false); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return []model.Execution{}, nil
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, err := s.repo.ListBySession(ctx, sessionID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list executions",
			slog.String("session", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return executions, nil
}

// Get retrieves one recorded execution.
// Returns apperror.ErrNotFound if it doesn't exist.
func (s *ExecutionService) Get(ctx context.Context, id string) (*model.Execution, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "execution ID is required")
	}
	if s.repo == nil {
		return nil, apperror.NotFound("execution", id)
	}

	// NotFound is already an apperror; let it through untouched.
	return s.repo.GetByID(ctx, id)
}

// ValidateSession checks a session id. The empty id is only accepted
// where the default session applies.
func ValidateSession(sessionID string, allowEmpty bool) error {
	if sessionID == "" {
		if allowEmpty {
			return nil
		}
		return apperror.ValidationFailed("sessionId", "session ID is required")
	}
	if !sessionPattern.MatchString(sessionID) {
		return apperror.ValidationFailed("sessionId",
			fmt.Sprintf("session ID must be 1-%d letters, digits, '-' or '_'", MaxSessionLength))
	}
	return nil
}
