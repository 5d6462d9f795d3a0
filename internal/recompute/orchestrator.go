// Package recompute coordinates snapshot computation: one computation per
// SnapshotKey at a time, retries for transient failures, and a persisted
// empty fallback when computation cannot complete.
package recompute

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

// Triggers recorded on the job log.
const (
	TriggerOnDemand = "on_demand"
	TriggerSchedule = "schedule"
	TriggerBatch    = "batch"
)

// maxTrackedStates bounds the in-memory state table. Terminal entries are
// evicted first when it fills.
const maxTrackedStates = 10000

// Computer builds a snapshot without persisting it.
type Computer interface {
	Compute(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error)
}

// Store is the slice of the store the orchestrator writes through.
type Store interface {
	GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.CompanyAnalyticsSnapshot, error)
	InsertSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error
	ReplaceFallbackSnapshot(ctx context.Context, snap *model.CompanyAnalyticsSnapshot) error
	ListCompanies(ctx context.Context, trackedOnly bool) ([]model.Company, error)
	StartJob(ctx context.Context, job *model.RecomputeJob) error
	FinishJob(ctx context.Context, job *model.RecomputeJob) error
}

// Outcome is the result of one compute request.
type Outcome struct {
	Snapshot *model.CompanyAnalyticsSnapshot `json:"snapshot"`
	State    model.JobState                  `json:"state"`
	Attempts int                             `json:"attempts"`
	// Existing is set when the returned snapshot was committed by an earlier
	// or concurrent computation.
	Existing bool `json:"existing"`
	// Shared is set when the caller attached to an in-flight computation.
	Shared bool   `json:"shared"`
	JobID  string `json:"job_id,omitempty"`
}

// Orchestrator is the idempotent entry point for snapshot computation. It
// is safe for concurrent use.
type Orchestrator struct {
	store     Store
	computer  Computer
	durations model.PeriodDurations
	retry     resilience.RetryConfig
	workers   int
	limiter   *rate.Limiter
	graph     GraphSyncer
	graphWin  time.Duration

	group singleflight.Group

	mu     sync.Mutex
	states map[string]model.JobState

	now func() time.Time
	log *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGraphSync runs a graph sync over the trailing window after each
// scheduled batch.
func WithGraphSync(g GraphSyncer, window time.Duration) Option {
	return func(o *Orchestrator) {
		o.graph = g
		o.graphWin = window
	}
}

// New creates an Orchestrator. Windows are derived from durations; retry,
// worker count and job start rate come from cfg.
func New(st Store, comp Computer, durations model.PeriodDurations, cfg config.RecomputeConfig, opts ...Option) *Orchestrator {
	retry := cfg.Retry()
	retry.OnRetry = func(attempt int, err error) {
		retriesTotal.Inc()
		resilience.RetryLogger("recompute", "compute")(attempt, err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if cfg.JobsPerSecond > 0 {
		limit = rate.Limit(cfg.JobsPerSecond)
	}
	burst := cfg.JobBurst
	if burst <= 0 {
		burst = 1
	}

	o := &Orchestrator{
		store:     st,
		computer:  comp,
		durations: durations,
		retry:     retry,
		workers:   workers,
		limiter:   rate.NewLimiter(limit, burst),
		states:    make(map[string]model.JobState),
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.L().With(zap.String("component", "recompute.orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the last state this process observed for key.
func (o *Orchestrator) State(key model.SnapshotKey) (model.JobState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[key.String()]
	return s, ok
}

func (o *Orchestrator) setState(key model.SnapshotKey, s model.JobState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) >= maxTrackedStates {
		for k, v := range o.states {
			if v.Terminal() {
				delete(o.states, k)
			}
		}
	}
	o.states[key.String()] = s
}

// ComputeSnapshot returns the canonical snapshot for key, computing it if
// none exists or only a fallback exists. Concurrent calls for the same key
// share one computation. The computation is detached from ctx: a caller
// that gives up stops waiting but does not interrupt it.
//
// A fallback outcome returns the persisted empty snapshot and no error. An
// error is returned only for invalid keys, a cancelled wait, or when even
// the fallback could not be written (a PersistenceError).
func (o *Orchestrator) ComputeSnapshot(ctx context.Context, key model.SnapshotKey, trigger string) (*Outcome, error) {
	key = model.NewSnapshotKey(key.CompanyID, key.Period, key.PeriodStart)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if aligned := o.durations.AlignStart(key.Period, key.PeriodStart); !aligned.Equal(key.PeriodStart) {
		return nil, resilience.Validationf("period_start",
			"%s is not aligned to a %s window (nearest start %s)",
			key.PeriodStart.Format(time.RFC3339), key.Period, aligned.Format(time.RFC3339))
	}
	if !o.durations.End(key.Period, key.PeriodStart).After(key.PeriodStart) {
		return nil, resilience.Validationf("period", "window of %s has no width", key.Period)
	}
	if trigger == "" {
		trigger = TriggerOnDemand
	}

	o.mu.Lock()
	if s, ok := o.states[key.String()]; !ok || s.Terminal() {
		o.states[key.String()] = model.JobRequested
	}
	o.mu.Unlock()

	ch := o.group.DoChan(key.String(), func() (any, error) {
		return o.run(context.WithoutCancel(ctx), key, trigger)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "recompute: wait for computation")
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		out := *r.Val.(*Outcome)
		if r.Shared {
			out.Shared = true
			attachedTotal.Inc()
		}
		return &out, nil
	}
}

func (o *Orchestrator) run(ctx context.Context, key model.SnapshotKey, trigger string) (*Outcome, error) {
	log := o.log.With(
		zap.String("company_id", key.CompanyID),
		zap.String("period", string(key.Period)),
		zap.Time("period_start", key.PeriodStart),
	)

	existing, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*model.CompanyAnalyticsSnapshot, error) {
		snap, err := o.store.GetSnapshot(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return snap, err
	})
	if err != nil {
		// The write path below still enforces uniqueness, so an unreadable
		// store only costs the fast path.
		log.Warn("read existing snapshot", zap.Error(err))
		existing = nil
	}
	if existing != nil && !existing.Fallback {
		o.setState(key, model.JobSucceeded)
		return &Outcome{Snapshot: existing, State: model.JobSucceeded, Existing: true}, nil
	}
	replacing := existing != nil

	o.setState(key, model.JobRunning)
	inflight.Inc()
	defer inflight.Dec()
	start := time.Now()

	job := &model.RecomputeJob{
		CompanyID:   key.CompanyID,
		Period:      key.Period,
		PeriodStart: key.PeriodStart,
		State:       model.JobRunning,
		Trigger:     trigger,
		StartedAt:   o.now(),
	}
	logged := true
	if err := o.store.StartJob(ctx, job); err != nil {
		logged = false
		log.Warn("record job start", zap.Error(err))
	}

	out, runErr := o.computeAndStore(ctx, key, replacing, existing, log)
	if logged {
		out.JobID = job.ID
	}
	job.Attempts = out.Attempts
	job.State = out.State
	if out.Snapshot != nil {
		job.SnapshotID = out.Snapshot.ID
	}
	if runErr != nil {
		job.Error = runErr.Error()
	}
	done := o.now()
	job.CompletedAt = &done
	if logged {
		if err := o.store.FinishJob(ctx, job); err != nil {
			log.Warn("record job finish", zap.Error(err))
		}
	}

	o.setState(key, job.State)
	jobsTotal.WithLabelValues(string(job.State)).Inc()
	jobDuration.WithLabelValues(string(key.Period)).Observe(time.Since(start).Seconds())

	if runErr != nil && job.State == model.JobFailed {
		log.Error("recompute failed", zap.Int("attempts", job.Attempts), zap.Error(runErr))
		return nil, runErr
	}
	log.Info("recompute finished",
		zap.String("state", string(job.State)),
		zap.Int("attempts", job.Attempts),
		zap.Bool("existing", out.Existing),
	)
	return out, nil
}

// computeAndStore runs the aggregation with retries and persists the result,
// falling back to the empty snapshot when either step cannot complete. The
// returned error is the cause recorded on the job; it is fatal only when
// the outcome state is failed.
func (o *Orchestrator) computeAndStore(ctx context.Context, key model.SnapshotKey, replacing bool, existing *model.CompanyAnalyticsSnapshot, log *zap.Logger) (*Outcome, error) {
	attempts := 0
	snap, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*model.CompanyAnalyticsSnapshot, error) {
		attempts++
		return o.computer.Compute(ctx, key)
	})
	if err == nil {
		var winner *model.CompanyAnalyticsSnapshot
		winner, err = o.persist(ctx, key, snap, replacing)
		if err == nil {
			out := &Outcome{Snapshot: snap, State: model.JobSucceeded, Attempts: attempts}
			if winner != nil {
				out.Snapshot, out.Existing = winner, true
			}
			return out, nil
		}
		err = eris.Wrap(err, "recompute: persist snapshot")
	} else {
		err = eris.Wrap(err, "recompute: compute snapshot")
	}

	log.Warn("recompute falling back to empty snapshot",
		zap.Int("attempts", attempts),
		zap.String("error_class", resilience.Classify(err)),
		zap.Error(err),
	)

	if replacing {
		// The deterministic empty result is already persisted.
		return &Outcome{Snapshot: existing, State: model.JobFailedFallback, Attempts: attempts}, err
	}

	fallback := model.NewFallbackSnapshot(key, o.durations.End(key.Period, key.PeriodStart), resilience.Classify(err))
	winner, ferr := o.persist(ctx, key, fallback, false)
	if ferr != nil {
		perr := resilience.NewPersistenceError("write fallback snapshot", ferr)
		return &Outcome{State: model.JobFailed, Attempts: attempts}, eris.Wrapf(perr, "recompute: %s (after %v)", key, err)
	}
	if winner != nil {
		state := model.JobSucceeded
		if winner.Fallback {
			state = model.JobFailedFallback
		}
		return &Outcome{Snapshot: winner, State: state, Attempts: attempts, Existing: true}, err
	}
	return &Outcome{Snapshot: fallback, State: model.JobFailedFallback, Attempts: attempts}, err
}

// persist writes snap. When another writer already committed the key it
// returns that row as winner instead of an error. A winning fallback is
// superseded by a computed snap.
func (o *Orchestrator) persist(ctx context.Context, key model.SnapshotKey, snap *model.CompanyAnalyticsSnapshot, replacing bool) (*model.CompanyAnalyticsSnapshot, error) {
	write := o.store.InsertSnapshot
	if replacing {
		write = o.store.ReplaceFallbackSnapshot
	}
	err := resilience.Do(ctx, o.retry, func(ctx context.Context) error {
		return write(ctx, snap)
	})
	if err == nil {
		return nil, nil
	}
	if !resilience.IsConflict(err) {
		return nil, err
	}

	winner, gerr := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*model.CompanyAnalyticsSnapshot, error) {
		return o.store.GetSnapshot(ctx, key)
	})
	if gerr != nil {
		return nil, eris.Wrap(gerr, "recompute: read conflicting snapshot")
	}
	if winner.Fallback && !snap.Fallback && !replacing {
		return o.persist(ctx, key, snap, true)
	}
	return winner, nil
}
