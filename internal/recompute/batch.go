package recompute

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-signals/internal/graph"
	"github.com/sells-group/market-signals/internal/model"
)

// GraphSyncer runs a knowledge graph sync pass.
type GraphSyncer interface {
	Sync(ctx context.Context, companyID string, w graph.Window) (*graph.Result, error)
}

// ItemError records one failed work item of a batch.
type ItemError struct {
	Key   model.SnapshotKey `json:"key"`
	Error string            `json:"error"`
}

// BatchResult summarises a batch. Every item lands in exactly one counter.
type BatchResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Fallback  int           `json:"fallback"`
	Failed    int           `json:"failed"`
	Errors    []ItemError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunBatch computes every key through the bounded worker pool, starting at
// most the configured number of jobs per second. Item failures are counted
// and never abort the batch; only a cancelled ctx stops it early, in which
// case unstarted items count as failed.
func (o *Orchestrator) RunBatch(ctx context.Context, keys []model.SnapshotKey, trigger string) *BatchResult {
	if trigger == "" {
		trigger = TriggerBatch
	}
	start := time.Now()
	res := &BatchResult{Total: len(keys)}
	if len(keys) == 0 {
		return res
	}

	o.log.Info("processing recompute batch",
		zap.Int("items", len(keys)),
		zap.Int("workers", o.workers),
		zap.String("trigger", trigger),
	)

	var g errgroup.Group
	g.SetLimit(o.workers)

	var succeeded, fallback, failed atomic.Int64
	var mu sync.Mutex
	fail := func(key model.SnapshotKey, err error) {
		failed.Add(1)
		mu.Lock()
		res.Errors = append(res.Errors, ItemError{Key: key, Error: err.Error()})
		mu.Unlock()
	}

	for _, key := range keys {
		g.Go(func() error {
			if err := o.limiter.Wait(ctx); err != nil {
				fail(key, eris.Wrap(err, "recompute: wait for job slot"))
				return nil
			}
			out, err := o.ComputeSnapshot(ctx, key, trigger)
			if err != nil {
				fail(key, err)
				return nil // don't abort batch on individual failure
			}
			if out.State == model.JobFailedFallback {
				fallback.Add(1)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Succeeded = int(succeeded.Load())
	res.Fallback = int(fallback.Load())
	res.Failed = int(failed.Load())
	res.Duration = time.Since(start)

	o.log.Info("recompute batch complete",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("fallback", res.Fallback),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// ScheduledResult is the outcome of one periodic trigger.
type ScheduledResult struct {
	Period      model.Period  `json:"period"`
	PeriodStart time.Time     `json:"period_start"`
	Batch       *BatchResult  `json:"batch"`
	Graph       *graph.Result `json:"graph,omitempty"`
}

// RunScheduled computes the latest closed window of period for every
// tracked company, then syncs the graph over the trailing window when a
// syncer is configured. A graph failure is logged and does not fail the run.
func (o *Orchestrator) RunScheduled(ctx context.Context, period model.Period, now time.Time) (*ScheduledResult, error) {
	if !period.Valid() {
		return nil, eris.Errorf("recompute: unknown period %q", period)
	}
	companies, err := o.store.ListCompanies(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "recompute: list tracked companies")
	}

	start := o.durations.LatestClosedStart(period, now)
	keys := make([]model.SnapshotKey, 0, len(companies))
	for _, c := range companies {
		keys = append(keys, model.NewSnapshotKey(c.ID, period, start))
	}

	res := &ScheduledResult{
		Period:      period,
		PeriodStart: start,
		Batch:       o.RunBatch(ctx, keys, TriggerSchedule),
	}

	if o.graph != nil {
		w := graph.Window{From: now.Add(-o.graphWin), To: now}
		gr, err := o.graph.Sync(ctx, "", w)
		if err != nil {
			o.log.Error("scheduled graph sync failed", zap.Error(err))
		} else {
			res.Graph = gr
		}
	}
	return res, nil
}
