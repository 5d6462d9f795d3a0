package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/store"
)

// mockJobs implements JobReader for testing.
type mockJobs struct {
	counts   map[model.JobState]int
	failed   []model.RecomputeJob
	countErr error
	listErr  error

	since  time.Time
	filter store.JobFilter
}

func (m *mockJobs) CountJobs(_ context.Context, since time.Time) (map[model.JobState]int, error) {
	m.since = since
	return m.counts, m.countErr
}

func (m *mockJobs) ListJobs(_ context.Context, filter store.JobFilter) ([]model.RecomputeJob, error) {
	m.filter = filter
	return m.failed, m.listErr
}

var collectedAt = time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

func newTestCollector(jobs JobReader) *Collector {
	c := NewCollector(jobs)
	c.now = func() time.Time { return collectedAt }
	return c
}

func TestCollector_Collect(t *testing.T) {
	jobs := &mockJobs{counts: map[model.JobState]int{
		model.JobSucceeded:      6,
		model.JobFailedFallback: 3,
		model.JobFailed:         1,
		model.JobRunning:        2,
	}, failed: []model.RecomputeJob{{ID: "j9", CompanyID: "acme", State: model.JobFailed, Error: "disk full"}}}

	snap, err := newTestCollector(jobs).Collect(context.Background(), 12)
	require.NoError(t, err)

	assert.Equal(t, collectedAt.Add(-12*time.Hour), jobs.since)
	assert.Equal(t, 12, snap.JobsTotal)
	assert.Equal(t, 6, snap.JobsSucceeded)
	assert.Equal(t, 3, snap.JobsFallback)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 2, snap.JobsRunning)
	assert.Equal(t, 10, snap.Finished())
	assert.InDelta(t, 0.4, snap.FallbackRate, 1e-9)
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, "j9", snap.LastFailure.ID)
	assert.Equal(t, model.JobFailed, jobs.filter.State)
	assert.Equal(t, 1, jobs.filter.Limit)
}

func TestCollector_Collect_Empty(t *testing.T) {
	jobs := &mockJobs{counts: map[model.JobState]int{}}
	snap, err := newTestCollector(jobs).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.LookbackHours, "zero lookback defaults to a day")
	assert.Zero(t, snap.FallbackRate)
	assert.Nil(t, snap.LastFailure)
	assert.Empty(t, jobs.filter.State, "no failed jobs, no listing")
}

func TestCollector_Collect_Errors(t *testing.T) {
	_, err := newTestCollector(&mockJobs{countErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count jobs")

	_, err = newTestCollector(&mockJobs{
		counts:  map[model.JobState]int{model.JobFailed: 1},
		listErr: errors.New("db down"),
	}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list failed jobs")
}

func TestCollector_Collect_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(t.TempDir() + "/jobs.db")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for i, state := range []model.JobState{model.JobSucceeded, model.JobFailedFallback, model.JobFailed} {
		job := &model.RecomputeJob{
			CompanyID:   "acme",
			Period:      model.PeriodDaily,
			PeriodStart: start.Add(time.Duration(i) * 24 * time.Hour),
			State:       model.JobRunning,
			Trigger:     "batch",
		}
		require.NoError(t, st.StartJob(ctx, job))
		job.State = state
		job.Error = string(state)
		require.NoError(t, st.FinishJob(ctx, job))
	}

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Finished())
	assert.InDelta(t, 2.0/3.0, snap.FallbackRate, 1e-9)
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, "failed", snap.LastFailure.Error)
}
