package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samims/keepsake/internal/handler"
	customMiddleware "github.com/samims/keepsake/internal/middleware"
	"github.com/samims/keepsake/pkg/tracing"
)

func NewRouter(
	runHandler *handler.RunHandler,
	healthHandler *handler.HealthHandler,
	tracer tracing.TracerInterface,
	operatorSecret string,
	runTimeout time.Duration,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(customMiddleware.MetricsMiddleware)
	r.Use(customMiddleware.TracingMiddleware(tracer))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.OperatorAuth(operatorSecret))
		r.With(middleware.Timeout(runTimeout)).Post("/runs", runHandler.Trigger)
		r.Get("/runs/latest", runHandler.Latest)
		r.Post("/keepsakes/{id}/requeue", runHandler.Requeue)
	})

	// Health & Readiness Routes
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/readyz", healthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
