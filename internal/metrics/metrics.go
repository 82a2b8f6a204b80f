// Package metrics implements the Metrics (A4) ambient component: Prometheus
// counters, gauges, and a histogram observing pipeline admission, active
// concurrency, upstream stream duration, and shutdown outcome.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns one Prometheus registry and the instruments registered on
// it. A process constructs exactly one and shares it across components.
type Metrics struct {
	Registry *prometheus.Registry

	admissions       *prometheus.CounterVec
	activePipelines  prometheus.Gauge
	streamDuration   prometheus.Histogram
	shutdownOutcome  *prometheus.CounterVec
}

// New constructs Metrics with a fresh registry and all instruments
// registered on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_admission_total",
			Help: "Count of rate-limit admission decisions, labeled by outcome and limit type.",
		}, []string{"allowed", "limit_type"}),
		activePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatcore_active_pipelines",
			Help: "Number of pipeline invocations currently in flight.",
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatcore_upstream_stream_duration_seconds",
			Help:    "Wall-clock duration of one pipeline turn, including the upstream sendMessage call.",
			Buckets: prometheus.DefBuckets,
		}),
		shutdownOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_shutdown_outcome_total",
			Help: "Count of shutdown completions, labeled by exit code.",
		}, []string{"code"}),
	}

	reg.MustRegister(m.admissions, m.activePipelines, m.streamDuration, m.shutdownOutcome)
	return m
}

// RecordAdmission tags one rate-limit decision.
func (m *Metrics) RecordAdmission(allowed bool, limitType string) {
	m.admissions.WithLabelValues(boolLabel(allowed), limitType).Inc()
}

// PipelineStarted increments the active-pipeline gauge; the caller must
// call the returned func exactly once when the pipeline finishes.
func (m *Metrics) PipelineStarted() func() {
	m.activePipelines.Inc()
	return m.activePipelines.Dec
}

// ObserveStreamDuration records how long one turn took. The server observes
// it around the whole Pipeline.Process call, so the sample covers rate
// limiting, attachment processing and indexing as well as the upstream call.
func (m *Metrics) ObserveStreamDuration(d time.Duration) {
	m.streamDuration.Observe(d.Seconds())
}

// RecordShutdown tags one shutdown completion by its exit code.
func (m *Metrics) RecordShutdown(code int) {
	label := "0"
	if code != 0 {
		label = "1"
	}
	m.shutdownOutcome.WithLabelValues(label).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
