// Package config reads process settings from the environment.
//
// Both binaries use it: cmd/server takes the values as they are, and the
// rexec CLI uses them as flag defaults. Every variable has a default, so
// an empty environment is a valid local setup.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/rstats-playground/internal/executor/docker"
	"github.com/sakif/rstats-playground/internal/executor/process"
	"github.com/sakif/rstats-playground/internal/executor/rscript"
	"github.com/sakif/rstats-playground/internal/executor/script"
	"github.com/sakif/rstats-playground/internal/server"
)

// Settings is the flat view of every environment variable.
type Settings struct {
	Port            int
	DBPath          string
	LogLevel        slog.Level
	DataRoot        string
	DurableDir      string
	RBinary         string
	RPackages       []string
	ExecTimeout     time.Duration
	MaxConcurrent   int
	Runner          string
	DockerImage     string
	DockerPoolSize  int
	DefaultVariable string
	CORSOrigins     []string
}

// Defaults returns the settings of an empty environment.
func Defaults() Settings {
	return Settings{
		Port:            8080,
		DBPath:          "data/playground.db",
		LogLevel:        slog.LevelDebug,
		DataRoot:        "data/workspace",
		DurableDir:      "data/durable",
		RBinary:         "Rscript",
		RPackages:       append([]string(nil), script.DefaultPackages...),
		ExecTimeout:     60 * time.Second,
		MaxConcurrent:   4,
		Runner:          server.RunnerLocal,
		DockerImage:     "rocker/tidyverse:4.4",
		DockerPoolSize:  2,
		DefaultVariable: "df",
		CORSOrigins:     []string{"*"},
	}
}

// FromEnv overlays the variables getenv knows about on Defaults. All
// malformed values are reported together.
//
// getenv is os.Getenv in production; tests pass a map lookup.
func FromEnv(getenv func(string) string) (Settings, error) {
	s := Defaults()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v) // Atoi = ASCII to Integer
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", key, v))
			return
		}
		*dst = n
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); strings.TrimSpace(v) != "" {
			*dst = SplitList(v)
		}
	}

	integer("PORT", &s.Port)
	str("DB_PATH", &s.DBPath)
	str("DATA_ROOT", &s.DataRoot)
	str("DURABLE_DIR", &s.DurableDir)
	str("R_BINARY", &s.RBinary)
	list("R_PACKAGES", &s.RPackages)
	integer("MAX_CONCURRENT", &s.MaxConcurrent)
	str("RUNNER", &s.Runner)
	str("DOCKER_IMAGE", &s.DockerImage)
	integer("DOCKER_POOL_SIZE", &s.DockerPoolSize)
	str("DEFAULT_VARIABLE", &s.DefaultVariable)
	list("CORS_ORIGINS", &s.CORSOrigins)

	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		if err := s.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", v))
		}
	}
	if v := strings.TrimSpace(getenv("EXEC_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("EXEC_TIMEOUT must be a positive duration like 60s, got %q", v))
		} else {
			s.ExecTimeout = d
		}
	}
	if s.Runner != server.RunnerLocal && s.Runner != server.RunnerDocker {
		errs = append(errs, fmt.Errorf("RUNNER must be %q or %q, got %q", server.RunnerLocal, server.RunnerDocker, s.Runner))
	}
	if !script.IsIdentifier(s.DefaultVariable) {
		errs = append(errs, fmt.Errorf("DEFAULT_VARIABLE must be a syntactic R name, got %q", s.DefaultVariable))
	}

	if err := errors.Join(errs...); err != nil {
		return s, err
	}
	return s, s.Absolutize()
}

// Absolutize makes the data directories absolute. Composed scripts and
// docker bind mounts refer to them from a different working directory.
func (s *Settings) Absolutize() error {
	for _, p := range []*string{&s.DataRoot, &s.DurableDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Executor builds the harness configuration.
func (s Settings) Executor() rscript.Config {
	cfg := rscript.DefaultConfig(s.DataRoot)
	cfg.DurableDir = s.DurableDir
	cfg.DefaultVariable = s.DefaultVariable
	cfg.MaxConcurrent = s.MaxConcurrent
	cfg.Script.Packages = s.RPackages
	return cfg
}

// Local builds the local Rscript runner configuration.
func (s Settings) Local() process.Config {
	cfg := process.DefaultConfig(s.DataRoot)
	cfg.Binary = s.RBinary
	cfg.Timeout = s.ExecTimeout
	return cfg
}

// Docker builds the container runner configuration.
func (s Settings) Docker() docker.Config {
	cfg := docker.DefaultConfig(s.DataRoot)
	cfg.Image = s.DockerImage
	cfg.PoolSize = s.DockerPoolSize
	cfg.Timeout = s.ExecTimeout
	return cfg
}

// Server builds the HTTP server configuration.
func (s Settings) Server() server.Config {
	return server.Config{
		Port:        s.Port,
		DBPath:      s.DBPath,
		CORSOrigins: s.CORSOrigins,
		Executor:    s.Executor(),
		Runner:      s.Runner,
		Local:       s.Local(),
		Docker:      s.Docker(),
		ExecTimeout: s.ExecTimeout,
	}
}

// NewLogger builds the process logger: human-readable text lines at the
// given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
