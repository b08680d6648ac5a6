// Package executor defines the execution contract between the HTTP layer
// and the R harness: requests, results, artifacts and schemas.
package executor

import (
	"context"
	"time"
)

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

// OutputMode selects how the snippet is wrapped before it runs.
type OutputMode string

const (
	// ModePlain captures the last visible value as text.
	ModePlain OutputMode = "plain"
	// ModePlot opens a graphics device around the snippet.
	ModePlot OutputMode = "plot"
)

// Valid reports whether m is a known mode. The empty mode is valid and
// means ModePlain.
func (m OutputMode) Valid() bool {
	switch m {
	case "", ModePlain, ModePlot:
		return true
	}
	return false
}

// ExecutionRequest represents a request to execute an R snippet against a
// session workspace.
type ExecutionRequest struct {
	SessionID      string     `json:"sessionId,omitempty"`
	SourceCode     string     `json:"sourceCode"`
	OutputMode     OutputMode `json:"outputMode,omitempty"`
	FormatTabular  bool       `json:"formatTabular"`
	RefreshSchema  bool       `json:"refreshSchema"`
	TargetVariable string     `json:"targetVariable,omitempty"`
}

// Session returns the effective session id.
func (r ExecutionRequest) Session() string {
	if r.SessionID == "" {
		return DefaultSession
	}
	return r.SessionID
}

// Mode returns the effective output mode.
func (r ExecutionRequest) Mode() OutputMode {
	if r.OutputMode == "" {
		return ModePlain
	}
	return r.OutputMode
}

// ExecutionResult is what a request produces. A result is returned even
// when the snippet fails; ErrorMessage explains what went wrong.
type ExecutionResult struct {
	ExecutionID   string        `json:"executionId"`
	SessionID     string        `json:"sessionId"`
	TextOutput    string        `json:"textOutput"`
	ErrorMessage  *string       `json:"errorMessage,omitempty"`
	Artifacts     Artifacts     `json:"artifacts"`
	UpdatedSchema *Schema       `json:"updatedSchema,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	ExitCode      int           `json:"exitCode"`
	Duration      time.Duration `json:"duration"`
}

// Executor runs snippets against persistent interpreter sessions.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
	// Introspect describes variable as it currently exists in the session.
	Introspect(ctx context.Context, sessionID, variable string) (*Schema, error)
	// Reset discards the session workspace. Resetting an empty session is
	// not an error.
	Reset(ctx context.Context, sessionID string) error
}
