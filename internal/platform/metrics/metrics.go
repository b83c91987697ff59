package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the player.
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	segmentsFetched   prometheus.Counter
	segmentFailures   prometheus.Counter
	bytesFetched      prometheus.Counter
	accessUnits       prometheus.Counter
	demuxErrors       *prometheus.CounterVec
	decodeRejections  prometheus.Counter
	tierSwitches      prometheus.Counter
	cyclesStarted     prometheus.Counter
	currentTier       prometheus.Gauge
	bufferedSegments  prometheus.Gauge
	bandwidthObserved prometheus.Gauge
	activeSessions    prometheus.Gauge
}

// New creates and registers Prometheus metrics for the player.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_control_requests_total",
			Help: "Total number of control API requests received by route",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_control_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx) by route",
		}, []string{"route"}),
		segmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_segments_fetched_total",
			Help: "Total number of segments downloaded successfully",
		}),
		segmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_segment_fetch_failures_total",
			Help: "Total number of segment downloads that failed and were skipped",
		}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_segment_bytes_total",
			Help: "Total segment payload bytes downloaded",
		}),
		accessUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_access_units_decoded_total",
			Help: "Total number of access units accepted by the decode sink",
		}),
		demuxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_demux_errors_total",
			Help: "Total number of demux errors by kind",
		}, []string{"kind"}),
		decodeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_decode_rejections_total",
			Help: "Total number of access units rejected by the decode sink",
		}),
		tierSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_tier_switches_total",
			Help: "Total number of committed quality tier changes",
		}),
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_playback_cycles_total",
			Help: "Total number of playback cycles started",
		}),
		currentTier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_current_tier",
			Help: "Index of the currently selected quality tier (0 = lowest)",
		}),
		bufferedSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_buffered_segments",
			Help: "Segments admitted to the buffer and not yet consumed",
		}),
		bandwidthObserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_bandwidth_sample",
			Help: "Most recent bandwidth sample routed to the quality controller",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_active_sessions",
			Help: "Playback sessions currently running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsFetched,
		m.segmentFailures,
		m.bytesFetched,
		m.accessUnits,
		m.demuxErrors,
		m.decodeRejections,
		m.tierSwitches,
		m.cyclesStarted,
		m.currentTier,
		m.bufferedSegments,
		m.bandwidthObserved,
		m.activeSessions,
	)

	return m
}

// IncRequests increments the request counter for route.
func (m *Metrics) IncRequests(route string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(route).Inc()
	}
}

// IncErrors increments the errors counter for route.
func (m *Metrics) IncErrors(route string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(route).Inc()
	}
}

// ObserveSegment records one successful download of n bytes.
func (m *Metrics) ObserveSegment(n int) {
	if m != nil {
		m.segmentsFetched.Inc()
		m.bytesFetched.Add(float64(n))
	}
}

// IncSegmentFailures counts one segment download that failed and was skipped.
func (m *Metrics) IncSegmentFailures() {
	if m != nil {
		m.segmentFailures.Inc()
	}
}

// IncAccessUnits counts one access unit accepted by the decode sink.
func (m *Metrics) IncAccessUnits() {
	if m != nil {
		m.accessUnits.Inc()
	}
}

// IncDemuxErrors increments the demux error counter for kind
// (e.g. "invalid_nal_units", "missing_parameter_sets").
func (m *Metrics) IncDemuxErrors(kind string) {
	if m != nil {
		m.demuxErrors.WithLabelValues(kind).Inc()
	}
}

// IncDecodeRejections counts one access unit the decode sink refused.
func (m *Metrics) IncDecodeRejections() {
	if m != nil {
		m.decodeRejections.Inc()
	}
}

// IncCycles counts one playback cycle start.
func (m *Metrics) IncCycles() {
	if m != nil {
		m.cyclesStarted.Inc()
	}
}

// SetTier sets the current tier gauge; switched also bumps the switch counter.
func (m *Metrics) SetTier(index int, switched bool) {
	if m == nil {
		return
	}
	m.currentTier.Set(float64(index))
	if switched {
		m.tierSwitches.Inc()
	}
}

// SetBuffered sets the buffered segments gauge.
func (m *Metrics) SetBuffered(n int) {
	if m != nil {
		m.bufferedSegments.Set(float64(n))
	}
}

// SetActiveSessions sets the running sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// SetBandwidth records the last bandwidth sample.
func (m *Metrics) SetBandwidth(b float64) {
	if m != nil {
		m.bandwidthObserved.Set(b)
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. buffered segments).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
