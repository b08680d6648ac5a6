package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor"
	"github.com/sakif/rstats-playground/internal/model"
)

// maxBodyBytes caps a request body. Source code is limited to 100000 bytes
// by the service; the rest is room for JSON escaping and the other fields.
const maxBodyBytes = 1 << 20

// ExecutionService is what the HTTP layer needs from the service layer.
// *service.ExecutionService satisfies it; tests pass a mock.
type ExecutionService interface {
	Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error)
	Reset(ctx context.Context, sessionID string) error
	Schema(ctx context.Context, sessionID, variable string) (*executor.Schema, error)
	History(ctx context.Context, sessionID string, limit, offset int) ([]model.Execution, error)
	Get(ctx context.Context, id string) (*model.Execution, error)
}

// ExecuteHandler handles snippet execution requests.
type ExecuteHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(svc ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleExecute runs a snippet in the session named by the body, or the
// default session when the body names none.
//
// HTTP: POST /api/execute
// REQUEST BODY:
//
//	{"sourceCode":"df_tidy <- head(mtcars)", "outputMode":"plain",
//	 "formatTabular":true, "refreshSchema":true}
//
// A snippet that fails in R still answers 200; the result's errorMessage
// carries the failure.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.execute(w, r, req)
}

// HandleSessionExecute is HandleExecute with the session taken from the
// path. The path wins over any sessionId in the body.
//
// HTTP: POST /api/sessions/{sessionID}/execute
func (h *ExecuteHandler) HandleSessionExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	if req.SessionID == "" {
		writeError(w, apperror.ValidationFailed("sessionId", "session ID is required"))
		return
	}
	h.execute(w, r, req)
}

func (h *ExecuteHandler) decode(w http.ResponseWriter, r *http.Request) (executor.ExecutionRequest, bool) {
	var req executor.ExecutionRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "request body must be a JSON execution request"))
		return req, false
	}
	return req, true
}

func (h *ExecuteHandler) execute(w http.ResponseWriter, r *http.Request, req executor.ExecutionRequest) {
	h.logger.Info("executing R snippet",
		slog.String("session", req.Session()),
		slog.String("mode", string(req.Mode())),
		slog.Bool("refresh_schema", req.RefreshSchema),
	)

	result, err := h.svc.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
