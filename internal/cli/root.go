// Package cli implements the rexec command line: the same execution
// service the HTTP server uses, driven from a terminal against a local
// data root.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/rstats-playground/internal/config"
	"github.com/sakif/rstats-playground/internal/executor/docker"
	"github.com/sakif/rstats-playground/internal/executor/process"
	"github.com/sakif/rstats-playground/internal/executor/rscript"
	"github.com/sakif/rstats-playground/internal/repository"
	sqliteRepo "github.com/sakif/rstats-playground/internal/repository/sqlite"
	"github.com/sakif/rstats-playground/internal/server"
	"github.com/sakif/rstats-playground/internal/service"
	"github.com/sakif/rstats-playground/internal/version"
)

var (
	settings config.Settings
	envErr   error
	session  string
	dbPath   string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "rexec",
	Short: "Run R snippets against persistent sessions",
	Long: `rexec runs R snippets the way the playground server does: each session keeps
its workspace between runs, plots are captured, and data frames can be
described for filtering.

Settings default to the server's environment variables (DATA_ROOT, R_BINARY,
RUNNER, EXEC_TIMEOUT, ...) and can be overridden with flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("rexec %s\n", version.String()))

	// Flag defaults come from the environment; a malformed variable falls
	// back to its default here and is reported when a command runs.
	settings, envErr = config.FromEnv(os.Getenv)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&session, "session", "s", "default", "Session whose workspace the command uses")
	pf.StringVar(&settings.DataRoot, "data-root", settings.DataRoot, "R working directory holding session snapshots and artifacts")
	pf.StringVar(&settings.RBinary, "r-binary", settings.RBinary, "Rscript executable for the local runner")
	pf.StringVar(&settings.Runner, "runner", settings.Runner, "How R is started (local, docker)")
	pf.StringVar(&settings.DockerImage, "image", settings.DockerImage, "Image for the docker runner")
	pf.DurationVar(&settings.ExecTimeout, "timeout", settings.ExecTimeout, "Time limit for one interpreter run")
	pf.StringSliceVar(&settings.RPackages, "packages", settings.RPackages, "Packages attached before every snippet")
	pf.StringVar(&settings.DefaultVariable, "default-var", settings.DefaultVariable, "Variable described when a snippet assigns none")
	pf.StringVar(&dbPath, "db", "", "SQLite file to record history in (empty: no history)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log harness activity to stderr")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// harness holds what one command invocation opened.
type harness struct {
	svc     *service.ExecutionService
	cleanup func()
}

// openHarness builds the execution service from the current flags. A
// single CLI invocation runs one interpreter at a time, so the pool has
// one slot and the docker runner keeps one warm container.
func openHarness(stderr io.Writer) (*harness, error) {
	if envErr != nil {
		return nil, fmt.Errorf("invalid environment: %w", envErr)
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(stderr, level)

	s := settings
	s.MaxConcurrent = 1
	s.DockerPoolSize = 1
	if err := s.Absolutize(); err != nil {
		return nil, err
	}

	var runner process.Runner
	var closeRunner func()
	switch s.Runner {
	case server.RunnerLocal:
		runner = process.NewLocalRunner(s.Local(), logger)
		closeRunner = func() {}
	case server.RunnerDocker:
		r, err := docker.New(s.Docker(), logger)
		if err != nil {
			return nil, fmt.Errorf("starting docker runner: %w", err)
		}
		runner = r
		closeRunner = func() { r.Close() }
	default:
		return nil, fmt.Errorf("unknown runner %q", s.Runner)
	}

	cfg := s.Executor()
	// The CLI does not persist on shutdown; snapshots under the data root
	// already survive between invocations.
	cfg.DurableDir = ""
	exec, err := rscript.New(cfg, runner, logger)
	if err != nil {
		closeRunner()
		return nil, err
	}

	var db *sqliteRepo.DB
	var repo repository.ExecutionRepository
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			closeRunner()
			return nil, err
		}
		db, err = sqliteRepo.New(dbPath)
		if err != nil {
			closeRunner()
			return nil, err
		}
		repo = db
	}

	return &harness{
		svc: service.NewExecutionService(exec, repo, logger),
		cleanup: func() {
			exec.Close(s.ExecTimeout)
			closeRunner()
			if db != nil {
				db.Close()
			}
		},
	}, nil
}
