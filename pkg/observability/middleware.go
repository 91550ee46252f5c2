package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type requestIDKey struct{}

// RequestIDFromContext returns the correlation id attached by
// RequestID, or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID stamps every inbound request with a correlation id (the
// inbound X-Request-Id header if present, otherwise a fresh uuid),
// placing it in the request context and echoing it back on the
// response so logs on both sides of the wire can be joined.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type Middleware interface {
	// WrapHandler wraps the given HTTP handler for instrumentation.
	WrapHandler(handler http.Handler) http.HandlerFunc
}

type middleware struct {
	metrics *HttpMetrics
}

// WrapHandler wraps the given HTTP handler for instrumentation:
// It reports HTTP metrics to the registered collectors.
// The collectors are labelled by request method and response status code.
func (m *middleware) WrapHandler(handler http.Handler) http.HandlerFunc {
	wrappedHandler := promhttp.InstrumentHandlerCounter(
		m.metrics.RequestsTotal,
		promhttp.InstrumentHandlerDuration(
			m.metrics.RequestDuration,
			promhttp.InstrumentHandlerRequestSize(
				m.metrics.RequestSize,
				promhttp.InstrumentHandlerResponseSize(
					m.metrics.ResponseSize,
					handler,
				),
			),
		),
	)

	return wrappedHandler.ServeHTTP
}

// NewMiddleware returns a Middleware interface.
func NewMiddleware(metrics *HttpMetrics) Middleware {
	return &middleware{
		metrics: metrics,
	}
}
