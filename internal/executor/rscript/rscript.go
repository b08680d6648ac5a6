// Package rscript is the R implementation of executor.Executor. It ties
// the composer, a process runner, the workspace manager, the artifact
// extractor and the schema introspector into one execution cycle.
package rscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/xid"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/executor/artifact"
	"github.com/sakif/rstats-playground/internal/executor/process"
	"github.com/sakif/rstats-playground/internal/executor/schema"
	"github.com/sakif/rstats-playground/internal/executor/script"
	"github.com/sakif/rstats-playground/internal/executor/workspace"
)

// Config holds orchestrator settings.
type Config struct {
	// DataRoot is the interpreter working directory. Session snapshots and
	// artifacts live below it.
	DataRoot string
	// DurableDir receives snapshot copies on shutdown. Empty disables it.
	DurableDir string
	// ArtifactURLPrefix is prepended to interactive document references.
	ArtifactURLPrefix string
	// DefaultVariable is described when neither the snippet nor the
	// request names a variable.
	DefaultVariable string
	// MaxConcurrent bounds concurrently running interpreters.
	MaxConcurrent int
	// Script configures composed scripts. DataRoot is always overridden.
	Script script.Options
}

// DefaultConfig returns orchestrator defaults for dataRoot.
func DefaultConfig(dataRoot string) Config {
	return Config{
		DataRoot:          dataRoot,
		ArtifactURLPrefix: "/artifacts",
		DefaultVariable:   "df",
		MaxConcurrent:     4,
		Script:            script.DefaultOptions(dataRoot),
	}
}

// ArtifactDir returns where session artifacts are written.
func (c Config) ArtifactDir() string {
	return filepath.Join(c.DataRoot, "artifacts")
}

// Executor runs snippets against per-session R workspaces.
type Executor struct {
	cfg          Config
	runner       process.Runner
	composer     *script.Composer
	workspaces   *workspace.Manager
	artifacts    *artifact.Extractor
	introspector *schema.Introspector
	detector     *schema.Detector
	pool         *ants.PoolWithFunc
	logger       *slog.Logger
}

var _ executor.Executor = (*Executor)(nil)

// New creates an Executor that runs scripts with runner.
func New(cfg Config, runner process.Runner, logger *slog.Logger) (*Executor, error) {
	if cfg.DataRoot == "" {
		return nil, errors.New("rscript: data root is required")
	}
	if cfg.DefaultVariable == "" {
		cfg.DefaultVariable = "df"
	}
	if !script.IsIdentifier(cfg.DefaultVariable) {
		return nil, fmt.Errorf("rscript: default variable %q is not a valid R name", cfg.DefaultVariable)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	cfg.Script.DataRoot = cfg.DataRoot

	workspaces, err := workspace.New(cfg.DataRoot, cfg.DurableDir, logger)
	if err != nil {
		return nil, err
	}
	pool, err := newRunPool(cfg.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	composer := script.New(cfg.Script)
	pooled := pooledRunner{pool: pool, runner: runner}
	return &Executor{
		cfg:          cfg,
		runner:       pooled,
		composer:     composer,
		workspaces:   workspaces,
		artifacts:    artifact.New(cfg.ArtifactDir(), cfg.ArtifactURLPrefix, artifact.NewSVGRasterizer(), logger),
		introspector: schema.NewIntrospector(composer, pooled, logger),
		detector:     schema.NewDetector(),
		pool:         pool,
		logger:       logger,
	}, nil
}

// Workspaces exposes the workspace manager for startup restore and
// shutdown persistence.
func (e *Executor) Workspaces() *workspace.Manager {
	return e.workspaces
}

// ArtifactDir returns the directory served under ArtifactURLPrefix.
func (e *Executor) ArtifactDir() string {
	return e.artifacts.Root()
}

// Execute runs one snippet. Script failures and missing artifacts are
// reported in the result; only validation and interpreter failures are
// returned as errors.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, apperror.ValidationFailed("sourceCode", "source code is required")
	}
	if !req.OutputMode.Valid() {
		return nil, apperror.ValidationFailed("outputMode", fmt.Sprintf("unknown output mode %q", req.OutputMode))
	}
	if req.TargetVariable != "" && !script.IsIdentifier(req.TargetVariable) {
		return nil, apperror.ValidationFailed("targetVariable", "target variable must be a syntactic R name")
	}

	started := time.Now()
	session := req.Session()
	mode := req.Mode()

	unlock := e.workspaces.Lock(session)
	defer unlock()

	if err := e.workspaces.Prepare(session); err != nil {
		return nil, err
	}
	if _, err := e.artifacts.Sweep(session); err != nil {
		e.logger.Warn("artifact sweep failed", slog.String("session", session), slog.String("error", err.Error()))
	}
	plan, err := e.artifacts.Plan(session)
	if err != nil {
		return nil, err
	}
	snapshot, hasSnapshot := e.workspaces.Load(session)

	src := e.composer.Compose(script.Job{
		Snippet:       req.SourceCode,
		Mode:          mode,
		FormatTabular: req.FormatTabular,
		SnapshotPath:  snapshot,
		LoadSnapshot:  hasSnapshot,
		VectorPath:    plan.VectorPath,
		RasterPath:    plan.RasterPath,
		DocumentPath:  plan.DocumentPath,
	})

	out, err := e.runner.Run(ctx, src)
	if err != nil {
		e.logger.Error("interpreter failed",
			slog.String("session", session),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	artifacts, problems := e.artifacts.Extract(plan, mode, out.Stdout)
	if artifacts == nil {
		artifacts = executor.Artifacts{}
	}

	result := &executor.ExecutionResult{
		ExecutionID: xid.New().String(),
		SessionID:   session,
		TextOutput:  artifact.CleanText(out.Stdout, out.Stderr),
		Artifacts:   artifacts,
		ExitCode:    out.ExitCode,
	}

	// Stderr from a run that exited 0 without the error marker (warnings,
	// message() output) is shown in the text, not reported as a failure.
	var msgs []string
	if out.ExitCode != 0 || artifact.HasErrorMarker(out.Stderr) {
		msgs = append(msgs, apperror.ScriptFailed(out.ExitCode, artifact.ErrorDetail(out.Stderr)).Error())
	}
	for _, p := range problems {
		msgs = append(msgs, p.Error())
	}
	if len(msgs) > 0 {
		m := strings.Join(msgs, "\n")
		result.ErrorMessage = &m
	}

	if req.RefreshSchema {
		fallback := req.TargetVariable
		if fallback == "" {
			fallback = e.cfg.DefaultVariable
		}
		variable := e.detector.Detect(req.SourceCode, fallback)
		s, warnings := e.describe(ctx, session, variable)
		result.UpdatedSchema = s
		result.Warnings = append(result.Warnings, warnings...)
		result.Warnings = append(result.Warnings, schema.MissingColumnWarnings(req.SourceCode, s)...)
	}

	result.Duration = time.Since(started)
	e.logger.Info("execution finished",
		slog.String("id", result.ExecutionID),
		slog.String("session", session),
		slog.String("mode", string(mode)),
		slog.Int("exit_code", out.ExitCode),
		slog.Int("artifacts", len(artifacts)),
		slog.Bool("failed", result.ErrorMessage != nil),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// describe introspects after an execution. Every failure degrades to an
// empty schema plus a warning; the execution itself already succeeded.
func (e *Executor) describe(ctx context.Context, session, variable string) (*executor.Schema, []string) {
	snapshot, _ := e.workspaces.Load(session)
	s, err := e.introspector.Describe(ctx, snapshot, variable)
	if err == nil {
		return s, nil
	}
	if s == nil {
		s = &executor.Schema{Variable: variable, Active: schema.IsActive(variable), Columns: []executor.ColumnDescriptor{}}
	}
	e.logger.Warn("schema refresh degraded",
		slog.String("session", session),
		slog.String("variable", variable),
		slog.String("error", err.Error()),
	)
	return s, []string{"schema unavailable: " + err.Error()}
}

// Introspect describes variable in the session's current workspace. An
// unreadable description degrades to an empty schema.
func (e *Executor) Introspect(ctx context.Context, sessionID, variable string) (*executor.Schema, error) {
	if sessionID == "" {
		sessionID = executor.DefaultSession
	}
	if variable == "" {
		variable = e.cfg.DefaultVariable
	}
	if !script.IsIdentifier(variable) {
		return nil, apperror.ValidationFailed("variable", "variable must be a syntactic R name")
	}

	unlock := e.workspaces.Lock(sessionID)
	defer unlock()

	snapshot, _ := e.workspaces.Load(sessionID)
	s, err := e.introspector.Describe(ctx, snapshot, variable)
	if errors.Is(err, apperror.ErrSchemaParse) {
		return s, nil
	}
	return s, err
}

// Reset discards the session's workspace and artifacts.
func (e *Executor) Reset(_ context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = executor.DefaultSession
	}
	unlock := e.workspaces.Lock(sessionID)
	defer unlock()

	if err := e.workspaces.Reset(sessionID); err != nil {
		return err
	}
	return e.artifacts.RemoveAll(sessionID)
}

// Close releases the interpreter pool, waiting up to timeout for running
// interpreters.
func (e *Executor) Close(timeout time.Duration) error {
	if err := e.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("rscript: releasing pool: %w", err)
	}
	return nil
}
