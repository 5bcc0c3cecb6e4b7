package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric mcpcassette registers. The
// recording proxy updates the Recorder* metrics and the replay matcher the
// Matcher* counters; ReplayRequestsTotal, ReplayMatchesTotal,
// VerifyInteractionsTotal and ActiveSessions are registered but not
// updated by any component.
type Metrics struct {
	RecorderRequestsTotal   *prometheus.CounterVec
	RecorderRequestDuration *prometheus.HistogramVec
	ReplayRequestsTotal     *prometheus.CounterVec
	ReplayMatchesTotal      *prometheus.CounterVec
	MatcherMatchesTotal     *prometheus.CounterVec
	MatcherMissesTotal      *prometheus.CounterVec
	VerifyInteractionsTotal *prometheus.CounterVec
	ActiveSessions          prometheus.Gauge
}

// NewMetrics creates and registers every metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RecorderRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "recorder",
				Name:      "requests_total",
				Help:      "Total number of requests proxied and recorded.",
			},
			[]string{"method", "status"},
		),
		RecorderRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpcassette",
				Subsystem: "recorder",
				Name:      "request_duration_seconds",
				Help:      "Upstream round-trip duration for recorded requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ReplayRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "replay",
				Name:      "requests_total",
				Help:      "Total number of requests served from a cassette.",
			},
			[]string{"method"},
		),
		ReplayMatchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "replay",
				Name:      "matches_total",
				Help:      "Total replay match attempts by outcome.",
			},
			[]string{"outcome"}, // outcome=hit/miss
		),
		MatcherMatchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "matcher",
				Name:      "matches_total",
				Help:      "Total requests paired with a recorded interaction, by strategy.",
			},
			[]string{"strategy"},
		),
		MatcherMissesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "matcher",
				Name:      "misses_total",
				Help:      "Total requests with no matching recorded interaction, by strategy.",
			},
			[]string{"strategy"},
		),
		VerifyInteractionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcassette",
				Subsystem: "verify",
				Name:      "interactions_total",
				Help:      "Total interactions verified by outcome.",
			},
			[]string{"outcome"}, // outcome=passed/failed/skipped
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpcassette",
				Name:      "active_sessions",
				Help:      "Number of active recorder/replay sessions.",
			},
		),
	}
}

// ObserveRequest implements recorder.Metrics.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	m.RecorderRequestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	m.RecorderRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordMatch implements matcher.Metrics.
func (m *Metrics) RecordMatch(strategy string) {
	m.MatcherMatchesTotal.WithLabelValues(strategy).Inc()
}

// RecordMiss implements matcher.Metrics.
func (m *Metrics) RecordMiss(strategy string) {
	m.MatcherMissesTotal.WithLabelValues(strategy).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status >= 400 && status < 500:
		return "client_error"
	case status >= 500:
		return "server_error"
	default:
		return "other"
	}
}
