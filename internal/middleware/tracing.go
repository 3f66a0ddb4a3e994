package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/samims/keepsake/pkg/tracing"
)

// TracingMiddleware opens a server span per request.
func TracingMiddleware(tracer tracing.TracerInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.StartServerSpan(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			tracer.AddRequestAttributes(span, r.Method, routePattern(r), r.UserAgent(), ww.Status())
		})
	}
}
