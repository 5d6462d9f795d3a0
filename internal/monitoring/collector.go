package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/store"
)

// MetricsSnapshot holds a point-in-time view of recompute health.
type MetricsSnapshot struct {
	// Job log counts within the lookback window.
	JobsTotal     int `json:"jobs_total"`
	JobsSucceeded int `json:"jobs_succeeded"`
	JobsFallback  int `json:"jobs_fallback"`
	JobsFailed    int `json:"jobs_failed"`
	JobsRunning   int `json:"jobs_running"`

	// FallbackRate is (fallback + failed) / finished.
	FallbackRate float64 `json:"fallback_rate"`

	// LastFailure is the most recent job that ended in failed, if any.
	LastFailure *model.RecomputeJob `json:"last_failure,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished returns the number of jobs in a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.JobsSucceeded + s.JobsFallback + s.JobsFailed
}

// JobReader is the slice of the store the collector reads.
type JobReader interface {
	CountJobs(ctx context.Context, since time.Time) (map[model.JobState]int, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.RecomputeJob, error)
}

// Collector gathers metrics from the recompute job log.
type Collector struct {
	jobs JobReader
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(jobs JobReader) *Collector {
	return &Collector{jobs: jobs, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.jobs.CountJobs(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	for state, n := range counts {
		snap.JobsTotal += n
		switch state {
		case model.JobSucceeded:
			snap.JobsSucceeded += n
		case model.JobFailedFallback:
			snap.JobsFallback += n
		case model.JobFailed:
			snap.JobsFailed += n
		case model.JobRunning, model.JobRequested:
			snap.JobsRunning += n
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.FallbackRate = float64(snap.JobsFallback+snap.JobsFailed) / float64(finished)
	}

	if snap.JobsFailed > 0 {
		failed, err := c.jobs.ListJobs(ctx, store.JobFilter{State: model.JobFailed, Since: cutoff, Limit: 1})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list failed jobs")
		}
		if len(failed) > 0 {
			snap.LastFailure = &failed[0]
		}
	}
	return snap, nil
}
