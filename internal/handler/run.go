package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/middleware"
	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/internal/service"
)

// RunTrigger is the processor as seen by the operator API.
type RunTrigger interface {
	RunOnce(ctx context.Context) (model.Summary, error)
	LatestRun(ctx context.Context) (model.Run, error)
}

type RunHandler struct {
	runner  RunTrigger
	requeue service.RequeueService
	logger  *slog.Logger
}

func NewRunHandler(runner RunTrigger, requeue service.RequeueService, l *slog.Logger) *RunHandler {
	return &RunHandler{runner: runner, requeue: requeue, logger: l}
}

type runResponse struct {
	Summary model.Summary `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// Trigger runs one processing pass and returns its summary.
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("Processing run triggered over HTTP", slog.String("operator", operator))

	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, runResponse{Summary: summary, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Summary: summary})
}

func (h *RunHandler) Latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.LatestRun(r.Context())
	if appErr.IsNotFound(err) {
		http.Error(w, "no runs recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load latest run", slog.Any("error", err))
		http.Error(w, "failed to load latest run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Requeue moves an errored keepsake back to scheduled.
func (h *RunHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid keepsake id", http.StatusBadRequest)
		return
	}

	err = h.requeue.Requeue(r.Context(), id, "http")
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": string(model.StatusScheduled)})
	case appErr.IsNotFound(err):
		http.Error(w, "keepsake not found", http.StatusNotFound)
	case errors.Is(err, appErr.ErrNotRequeueable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "failed to requeue keepsake", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
