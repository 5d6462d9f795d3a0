package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
	"github.com/sells-group/market-signals/internal/resilience"
)

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("start", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTimeFlag("start", "2024-03-04T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), got)

	got, err = parseTimeFlag("start", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseTimeFlag("start", "yesterday")
	assert.True(t, resilience.IsValidation(err))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"acme", "globex"}, splitList(" acme, ,globex,"))
	assert.Nil(t, splitList(""))
}

func TestResolveStart(t *testing.T) {
	d := model.DefaultPeriodDurations()
	now := time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

	got, err := resolveStart(d, model.PeriodDaily, "", false, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = resolveStart(d, model.PeriodWeekly, "", false, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), got)

	got, err = resolveStart(d, model.PeriodDaily, "2024-03-01", false, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	// Unaligned starts pass through unless asked to align.
	got, err = resolveStart(d, model.PeriodWeekly, "2024-03-06", false, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), got)

	got, err = resolveStart(d, model.PeriodWeekly, "2024-03-06", true, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got)

	monthly := d.AlignStart(model.PeriodMonthly, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	got, err = resolveStart(d, model.PeriodMonthly, "2026-10-01", true, now)
	require.NoError(t, err)
	assert.Equal(t, monthly, got)
	assert.False(t, got.After(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBatchKeys(t *testing.T) {
	last := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	keys := batchKeys(model.DefaultPeriodDurations(), []string{"acme", "globex"}, model.PeriodDaily, last, 2)
	require.Len(t, keys, 4)
	assert.Equal(t, model.NewSnapshotKey("acme", model.PeriodDaily, last.Add(-24*time.Hour)), keys[0])
	assert.Equal(t, model.NewSnapshotKey("acme", model.PeriodDaily, last), keys[1])
	assert.Equal(t, "globex", keys[3].CompanyID)
}

func TestFormatBatchResult(t *testing.T) {
	var buf bytes.Buffer
	formatBatchResult(&buf, &recompute.BatchResult{
		Total: 3, Succeeded: 1, Fallback: 1, Failed: 1,
		Errors:   []recompute.ItemError{{Key: model.NewSnapshotKey("acme", model.PeriodDaily, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)), Error: "disk full"}},
		Duration: 1500 * time.Millisecond,
	})
	assert.Contains(t, buf.String(), "total=3 succeeded=1 fallback=1 failed=1 duration=1.5s")
	assert.Contains(t, buf.String(), "acme|daily|2024-03-04T00:00:00Z: disk full")
}

func TestFormatJobsList(t *testing.T) {
	started := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)
	done := started.Add(250 * time.Millisecond)
	var buf bytes.Buffer
	formatJobsList(&buf, []model.RecomputeJob{
		{ID: "0123456789abcdef", CompanyID: "acme", Period: model.PeriodDaily, PeriodStart: started.Truncate(24 * time.Hour),
			State: model.JobSucceeded, Trigger: "batch", Attempts: 1, StartedAt: started, CompletedAt: &done},
		{ID: "j2", CompanyID: "globex", Period: model.PeriodWeekly, State: model.JobRunning, StartedAt: started},
	})
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "250ms")
	assert.Contains(t, out, "running")
}

func TestFormatJobCounts(t *testing.T) {
	var buf bytes.Buffer
	formatJobCounts(&buf, map[model.JobState]int{model.JobSucceeded: 4, model.JobFailed: 1}, 12)
	assert.Contains(t, buf.String(), "Jobs in the last 12h")
	assert.Contains(t, buf.String(), "total            5")
}
