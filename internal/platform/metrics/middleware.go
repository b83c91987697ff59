package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests that no chi route pattern claimed.
const unmatchedRoute = "unmatched"

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi-compatible middleware that records control
// request count and error count (status >= 400) per route pattern, so
// /sessions/{session_id} is one series no matter how many sessions exist.
// The /metrics scrape itself is not counted.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// chi fills the pattern in while routing, so read it afterwards.
			route := RoutePattern(r)
			m.IncRequests(route)
			if rec.status >= 400 {
				m.IncErrors(route)
			}
		})
	}
}

// RoutePattern returns the chi route pattern that served r, or "unmatched"
// when r did not go through a chi router or matched no route.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return unmatchedRoute
}
