package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
)

type fakeRunner struct {
	periods []model.Period
	nows    []time.Time
	err     error
	hasDL   bool
}

func (f *fakeRunner) RunScheduled(ctx context.Context, period model.Period, now time.Time) (*recompute.ScheduledResult, error) {
	f.periods = append(f.periods, period)
	f.nows = append(f.nows, now)
	_, f.hasDL = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &recompute.ScheduledResult{
		Period:      period,
		PeriodStart: now.Truncate(24 * time.Hour),
		Batch:       &recompute.BatchResult{Total: 2, Succeeded: 2},
	}, nil
}

func TestNew_RegistersConfiguredPeriods(t *testing.T) {
	s, err := New(config.ScheduleConfig{
		Timezone: "UTC",
		Daily:    "15 0 * * *",
		Weekly:   "30 0 * * 1",
	}, &fakeRunner{})
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.PeriodDaily, entries[0].Period)
	assert.Equal(t, model.PeriodWeekly, entries[1].Period)
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(config.ScheduleConfig{Daily: "not a cron spec"}, &fakeRunner{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule: add daily job")
}

func TestNew_RejectsBadTimezone(t *testing.T) {
	_, err := New(config.ScheduleConfig{Timezone: "Mars/Olympus"}, &fakeRunner{})
	require.Error(t, err)
}

func TestRunNow(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(config.ScheduleConfig{Daily: "15 0 * * *", JobTimeoutSecs: 60}, r)
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 5, 0, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	res, err := s.RunNow(context.Background(), model.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch.Succeeded)
	assert.Equal(t, []model.Period{model.PeriodDaily}, r.periods)
	assert.Equal(t, fixed, r.nows[0])
	assert.True(t, r.hasDL, "runs carry the job timeout")

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Same(t, res, entries[0].Last)
}

func TestRunNow_PropagatesError(t *testing.T) {
	s, err := New(config.ScheduleConfig{}, &fakeRunner{err: errors.New("store down")})
	require.NoError(t, err)
	_, err = s.RunNow(context.Background(), model.PeriodWeekly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestStartStop(t *testing.T) {
	s, err := New(config.ScheduleConfig{Daily: "15 0 * * *"}, &fakeRunner{})
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return !s.Entries()[0].NextRun.IsZero() }, time.Second, 5*time.Millisecond)
	<-s.Stop().Done()
}
