// Package apperror defines the error taxonomy shared by the harness,
// the service layer and the HTTP handlers.
//
// Every error is an *AppError wrapping one sentinel. Callers branch with
// errors.Is on the sentinel and read the human-readable Message through
// errors.As. Only ErrProcessSpawn is fatal for an execution request; the
// other harness errors are folded into the result as text.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrScript marks a snippet that exited non-zero or wrote to stderr.
	ErrScript = errors.New("script error")
	// ErrArtifactMissing marks an expected plot or document that is absent
	// or below the validity threshold.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrSchemaParse marks introspection output that could not be decoded.
	ErrSchemaParse = errors.New("schema parse error")
	// ErrProcessSpawn marks an interpreter that could not be started,
	// crashed, or ran past its budget.
	ErrProcessSpawn = errors.New("process spawn error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, kept out of Message
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so
// errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ScriptFailed describes a snippet that ran but failed. detail is the
// filtered stderr or the interpreter's condition message.
func ScriptFailed(exitCode int, detail string) *AppError {
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("script exited with status %d", exitCode)
	}
	return &AppError{
		Err:     ErrScript,
		Message: msg,
	}
}

// ArtifactMissing describes an artifact of the given kind that was
// expected but not usable.
func ArtifactMissing(kind, message string) *AppError {
	return &AppError{
		Err:     ErrArtifactMissing,
		Message: message,
		Field:   kind,
	}
}

func SchemaParse(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrSchemaParse,
		Message: message,
		Cause:   cause,
	}
}

// ProcessSpawn is the one fatal harness error: the interpreter never
// produced a result.
func ProcessSpawn(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrProcessSpawn,
		Message: message,
		Cause:   cause,
	}
}
