package schema

import (
	"context"
	"log/slog"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/executor/artifact"
	"github.com/sakif/rstats-playground/internal/executor/process"
	"github.com/sakif/rstats-playground/internal/executor/script"
)

// Introspector runs the introspection script against a snapshot.
type Introspector struct {
	composer *script.Composer
	runner   process.Runner
	logger   *slog.Logger
}

// NewIntrospector creates an Introspector.
func NewIntrospector(composer *script.Composer, runner process.Runner, logger *slog.Logger) *Introspector {
	return &Introspector{composer: composer, runner: runner, logger: logger}
}

// Describe returns the schema of variable as saved in snapshotPath. The
// snapshot is only read.
//
// Runner failures are returned as is. An unreadable description yields an
// empty schema with an ErrSchemaParse error, which callers may treat as a
// degradation.
func (i *Introspector) Describe(ctx context.Context, snapshotPath, variable string) (*executor.Schema, error) {
	if !script.IsIdentifier(variable) {
		return nil, apperror.ValidationFailed("variable", "variable must be a syntactic R name")
	}

	out, err := i.runner.Run(ctx, i.composer.ComposeIntrospection(snapshotPath, variable))
	if err != nil {
		return nil, err
	}

	s, err := Parse(out.Stdout, variable)
	if err != nil {
		if detail := artifact.ErrorDetail(out.Stderr); detail != "" {
			err = apperror.SchemaParse("introspection failed: "+detail, err)
		}
		i.logger.Warn("schema introspection degraded",
			slog.String("variable", variable),
			slog.Int("exit_code", out.ExitCode),
			slog.String("error", err.Error()),
		)
		return s, err
	}

	i.logger.Debug("schema introspected",
		slog.String("variable", variable),
		slog.Bool("exists", s.Exists),
		slog.Int("columns", len(s.Columns)),
		slog.Duration("duration", out.Duration),
	)
	return s, nil
}
