package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// extractionsTotal counts ingested extractions.
	// Labels: outcome (baseline, unchanged, changed, rejected)
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "ingest",
		Name:      "extractions_total",
		Help:      "Pricing extractions ingested by diff outcome",
	}, []string{"outcome"})

	newsItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "ingest",
		Name:      "news_items_total",
		Help:      "News records upserted",
	})

	notificationUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market_signals",
		Subsystem: "ingest",
		Name:      "notification_updates_total",
		Help:      "Notification status writes by resulting status",
	}, []string{"status"})
)

const outcomeRejected = "rejected"
