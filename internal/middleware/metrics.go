package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samims/keepsake/internal/metrics"
)

func MetricsMiddleware(next http.Handler) http.Handler {
	h := func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		path := routePattern(r)
		method := r.Method
		status := strconv.Itoa(ww.Status())

		metrics.HTTPRequests.WithLabelValues(path, method, status).Inc()
		metrics.RequestDuration.WithLabelValues(path, method).Observe(duration)
	}

	return http.HandlerFunc(h)
}

// routePattern keeps path labels bounded: /keepsakes/{id}/requeue rather than one label per id.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
