package devserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "careflow"

// Metrics are the queue counters served at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted  *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsCancelled  prometheus.Counter
	stepResults    *prometheus.CounterVec
	dispatchLag    prometheus.Histogram
}

// NewMetrics registers the queue metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Jobs accepted by the queue",
			},
			[]string{"step_type"},
		),
		jobsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_dispatched_total",
				Help:      "Due jobs released by the dispatcher",
			},
			[]string{"result"}, // dispatched, skipped, failed
		),
		jobsCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_cancelled_total",
				Help:      "Pending jobs dropped by workflow cancellation",
			},
		),
		stepResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_results_total",
				Help:      "Lab results recorded against steps",
			},
			[]string{"outcome"},
		),
		dispatchLag: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_lag_seconds",
				Help:      "Time between a job's due time and its dispatch",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
	}

	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsDispatched,
		m.jobsCancelled,
		m.stepResults,
		m.dispatchLag,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
