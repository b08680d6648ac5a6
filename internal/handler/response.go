package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so the API has one
// success shape (the resource itself) and one error shape:
//
//	{"error": "validation_error", "message": "source code is required", "field": "sourceCode"}
//
// The "error" value is stable and meant for code; "message" is for people.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/rstats-playground/internal/apperror"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`           // Stable error code, e.g. "interpreter_unavailable"
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending field for validation errors
}

// writeJSON sends data as JSON with the given status.
// Headers must be set before WriteHeader; anything set afterwards is lost.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already out; logging is all that is left.
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// errorMapping ties a sentinel to its HTTP status and error code.
type errorMapping struct {
	sentinel error
	status   int
	code     string
}

// errorMappings is checked in order; the first sentinel found in the chain
// wins.
//
// A snippet that fails inside R never gets here: the service answers 200
// and the result's errorMessage says what went wrong. ErrProcessSpawn means
// R never produced a result at all (missing binary, crash, time limit),
// which is an upstream failure and so a 502. ErrScript and
// ErrArtifactMissing are mapped to 422 for callers that surface them
// directly.
var errorMappings = []errorMapping{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrProcessSpawn, http.StatusBadGateway, "interpreter_unavailable"},
	{apperror.ErrSchemaParse, http.StatusBadGateway, "schema_unavailable"},
	{apperror.ErrScript, http.StatusUnprocessableEntity, "script_error"},
	{apperror.ErrArtifactMissing, http.StatusUnprocessableEntity, "artifact_missing"},
}

// writeError translates a domain error into an HTTP answer.
//
// The service layer speaks in apperror sentinels and knows nothing about
// status codes; this is the one place where the two meet. errors.Is walks
// wrapped chains, so fmt.Errorf("resetting workspace: %w", appErr) still
// maps correctly.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown errors may carry SQL, file paths or stderr. None of that
		// goes to the client.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, code := http.StatusInternalServerError, "internal_error"
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			status, code = m.status, m.code
			break
		}
	}

	// Message, not Error(): the cause may carry stderr or file paths.
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
