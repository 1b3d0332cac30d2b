package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	gatherer       prometheus.Gatherer
	sitesProcessed prometheus.Counter
	sitesFailed    prometheus.Counter
	incidents      *prometheus.CounterVec
	suppressions   prometheus.Counter
	replayDuration prometheus.Histogram
	patternsActive prometheus.Gauge
}

// NewMetrics registers the leak detection collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg, reg)
}

func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		sitesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leak_sites_processed_total",
			Help: "Total sites replayed successfully.",
		}),
		sitesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leak_sites_failed_total",
			Help: "Total sites skipped because their replay failed.",
		}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leak_incidents_total",
			Help: "Incidents produced by replays, by final status.",
		}, []string{"status"}),
		suppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leak_incidents_suppressed_total",
			Help: "Incidents auto-suppressed by a false-alarm pattern.",
		}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leak_replay_duration_seconds",
			Help:    "Histogram of full replay durations.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		patternsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leak_patterns_active",
			Help: "Active false-alarm patterns after the last cleanup.",
		}),
	}

	reg.MustRegister(
		m.sitesProcessed,
		m.sitesFailed,
		m.incidents,
		m.suppressions,
		m.replayDuration,
		m.patternsActive,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SiteProcessed() {
	if m == nil {
		return
	}
	m.sitesProcessed.Inc()
}

func (m *Metrics) SiteFailed() {
	if m == nil {
		return
	}
	m.sitesFailed.Inc()
}

func (m *Metrics) Incident(status models.IncidentStatus) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.suppressions.Inc()
}

func (m *Metrics) ReplayFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.replayDuration.Observe(duration.Seconds())
}

func (m *Metrics) ActivePatterns(n int) {
	if m == nil {
		return
	}
	m.patternsActive.Set(float64(n))
}
