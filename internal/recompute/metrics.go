package recompute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished computations.
	// Labels: state (succeeded, failed_fallback, failed)
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "recompute",
		Name:      "jobs_total",
		Help:      "Recompute jobs by terminal state",
	}, []string{"state"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "market_signals",
		Subsystem: "recompute",
		Name:      "job_duration_seconds",
		Help:      "Recompute job wall time including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"period"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "recompute",
		Name:      "retries_total",
		Help:      "Retried recompute steps",
	})

	attachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "recompute",
		Name:      "attached_total",
		Help:      "Requests that attached to an in-flight computation",
	})

	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "market_signals",
		Subsystem: "recompute",
		Name:      "inflight",
		Help:      "Computations currently running",
	})
)
