package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "graph",
		Name:      "syncs_total",
		Help:      "Graph sync passes by status",
	}, []string{"status"})

	edgesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "graph",
		Name:      "edges_upserted_total",
		Help:      "Edges written by sync passes",
	})

	edgesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "graph",
		Name:      "edges_pruned_total",
		Help:      "Edges removed by retention pruning",
	})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "market_signals",
		Subsystem: "graph",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a graph sync pass",
		Buckets:   prometheus.DefBuckets,
	})
)
