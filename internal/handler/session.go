package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/rstats-playground/internal/apperror"
)

// SessionHandler exposes the session workspace and its history: reset,
// schema introspection and the execution log.
type SessionHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(svc ExecutionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// HandleReset discards the session workspace and history.
//
// HTTP: DELETE /api/sessions/{sessionID}/workspace
// Always 204 on success, including for a session that never existed.
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.svc.Reset(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSchema describes one workspace variable without running user code.
//
// HTTP: GET /api/sessions/{sessionID}/schema?variable=df_tidy
func (h *SessionHandler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	variable := r.URL.Query().Get("variable")

	schema, err := h.svc.Schema(r.Context(), sessionID, variable)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, schema)
}

// HandleHistory lists a session's executions, newest first.
//
// HTTP: GET /api/sessions/{sessionID}/executions?limit=20&offset=0
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	executions, err := h.svc.History(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executions)
}

// HandleGetExecution returns one recorded execution.
//
// HTTP: GET /api/executions/{id}
func (h *SessionHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, execution)
}

// queryInt reads an optional integer query parameter. Missing means 0,
// which the service turns into its default.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
