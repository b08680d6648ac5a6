// Package model defines the data structures used throughout the application.
package model

import "time"

// Execution is the history record of one snippet run.
//
// The record keeps what the caller needs to replay or audit a session: the
// code, the mode it ran in, what came back, and how long it took. Artifact
// bodies are not stored; plots are inlined in the live response only, and
// documents are swept on the next run of the session.
//
// WHY ErrorMessage string (not *string)?
// An empty string already means "no error", and the column is NOT NULL.
// The JSON response omits it when empty.
type Execution struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"sessionId"`
	Code          string        `json:"code"`
	Mode          string        `json:"mode"`
	TextOutput    string        `json:"textOutput"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	ExitCode      int           `json:"exitCode"`
	ArtifactCount int           `json:"artifactCount"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Failed reports whether the run ended with an error message.
func (e Execution) Failed() bool {
	return e.ErrorMessage != ""
}
