package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates recompute health on an interval and remembers the most
// recent metrics for the API.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger

	mu   sync.RWMutex
	last *MetricsSnapshot
}

// NewChecker wires a collector and alerter using the interval and lookback
// from cfg.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting recompute health checks",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			c.log.Info("recompute health checks stopped")
			return
		}
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("monitoring: collect recompute metrics", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.log.Info("recompute health checks stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects the job log summary, records it as the latest result,
// and delivers any alerts it triggers.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	observe(snap, alerts)

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	if len(alerts) == 0 {
		c.log.Debug("recompute health ok",
			zap.Int("finished", snap.Finished()),
			zap.Float64("fallback_rate", snap.FallbackRate),
		)
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("recompute health alerts raised",
		zap.Int("alerts", len(alerts)),
		zap.Int("delivered", sent),
		zap.Int("failed_jobs", snap.JobsFailed),
		zap.Float64("fallback_rate", snap.FallbackRate),
	)
	return alerts, nil
}

// Last returns the most recent metrics, or nil before the first check.
func (c *Checker) Last() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
