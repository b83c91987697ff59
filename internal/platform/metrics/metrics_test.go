package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_exposition(t *testing.T) {
	m := New()
	m.ObserveSegment(1000)
	m.IncSegmentFailures()
	m.IncAccessUnits()
	m.IncDemuxErrors("invalid_nal_units")
	m.SetTier(2, true)
	m.SetBandwidth(1234)

	out := scrape(t, m, func() {
		m.SetBuffered(3)
		m.SetActiveSessions(1)
	})

	for _, want := range []string{
		"player_segments_fetched_total 1",
		"player_segment_bytes_total 1000",
		"player_segment_fetch_failures_total 1",
		"player_access_units_decoded_total 1",
		`player_demux_errors_total{kind="invalid_nal_units"} 1`,
		"player_current_tier 2",
		"player_tier_switches_total 1",
		"player_bandwidth_sample 1234",
		"player_buffered_segments 3",
		"player_active_sessions 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestMetrics_nil_receiver_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests("/status")
	m.SetActiveSessions(2)
	m.ObserveSegment(10)
	m.SetTier(1, true)
	m.IncDemuxErrors("x")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {})
	r.Put("/tier", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	r.Get("/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/status", nil),
		httptest.NewRequest(http.MethodPut, "/tier", nil),
		httptest.NewRequest(http.MethodGet, "/sessions/a", nil),
		httptest.NewRequest(http.MethodGet, "/sessions/b", nil),
		httptest.NewRequest(http.MethodGet, "/nowhere", nil),
		httptest.NewRequest(http.MethodGet, "/metrics", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	out := scrape(t, m, nil)
	for _, want := range []string{
		`player_control_requests_total{route="/status"} 1`,
		`player_control_requests_total{route="/tier"} 1`,
		`player_control_requests_total{route="/sessions/{session_id}"} 2`,
		`player_control_requests_total{route="unmatched"} 1`,
		`player_control_errors_total{route="/tier"} 1`,
		`player_control_errors_total{route="unmatched"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition:\n%s", want, out)
		}
	}
	if strings.Contains(out, `route="/metrics"`) {
		t.Errorf("scrape endpoint should not be counted:\n%s", out)
	}
}

func TestRoutePattern_outside_router(t *testing.T) {
	if got := RoutePattern(httptest.NewRequest(http.MethodGet, "/status", nil)); got != "unmatched" {
		t.Errorf("RoutePattern = %q, want unmatched", got)
	}
}
