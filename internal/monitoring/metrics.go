package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/market-signals/internal/model"
)

var (
	// jobsInWindow mirrors the last collected job counts.
	// Labels: state (running, succeeded, failed_fallback, failed)
	jobsInWindow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "market_signals",
		Subsystem: "monitoring",
		Name:      "jobs_in_window",
		Help:      "Recompute jobs started inside the lookback window",
	}, []string{"state"})

	fallbackRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "market_signals",
		Subsystem: "monitoring",
		Name:      "fallback_rate",
		Help:      "Share of finished jobs that ended in fallback or failure",
	})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "monitoring",
		Name:      "alerts_total",
		Help:      "Alerts raised by type",
	}, []string{"type"})
)

func observe(snap *MetricsSnapshot, alerts []Alert) {
	jobsInWindow.WithLabelValues(string(model.JobRunning)).Set(float64(snap.JobsRunning))
	jobsInWindow.WithLabelValues(string(model.JobSucceeded)).Set(float64(snap.JobsSucceeded))
	jobsInWindow.WithLabelValues(string(model.JobFailedFallback)).Set(float64(snap.JobsFallback))
	jobsInWindow.WithLabelValues(string(model.JobFailed)).Set(float64(snap.JobsFailed))
	fallbackRate.Set(snap.FallbackRate)
	for _, a := range alerts {
		alertsTotal.WithLabelValues(string(a.Type)).Inc()
	}
}
