package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samims/keepsake/internal/service"
)

type HealthHandler struct {
	service service.HealthService
	logger  *slog.Logger
}

func NewHealthHandler(svc service.HealthService, l *slog.Logger) *HealthHandler {
	return &HealthHandler{service: svc, logger: l}
}

// Liveness only reports that the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readiness reports every dependency. It is informational and never gates a run.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	data := h.service.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if service.Healthy(data) {
		w.WriteHeader(http.StatusOK)
	} else {
		h.logger.Warn("Readiness check failed", slog.Any("components", data))
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(data)
}
