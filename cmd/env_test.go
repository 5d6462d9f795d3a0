package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/comparison"
	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cmd.db")},
		Log:       config.LogConfig{Level: "error", Format: "json"},
		Server:    config.ServerConfig{Port: 8080},
		Analytics: config.DefaultAnalyticsConfig(),
		Recompute: config.RecomputeConfig{MaxAttempts: 2, InitialBackoffMS: 1, MaxBackoffMS: 2, Multiplier: 2, Workers: 2},
		Graph:     config.GraphConfig{RetentionDays: 30, WindowDays: 7, CompetesWithThreshold: 0.3, DefaultMentionWeight: 0.5},
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEngine_RejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Recompute.Workers = 0
	_, err := initEngine(context.Background(), c, "cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recompute.workers")
}

func TestInitEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env, err := initEngine(ctx, testConfig(t), "cli")
	require.NoError(t, err)
	defer env.Close()

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	priority := 0.6
	_, err = env.Ingest.IngestNews(ctx, []model.NewsItem{
		{ID: "n1", CompanyID: "acme", Timestamp: day.Add(2 * time.Hour), Priority: &priority},
	})
	require.NoError(t, err)

	out, err := env.Recompute.ComputeSnapshot(ctx, model.NewSnapshotKey("acme", model.PeriodDaily, day), recompute.TriggerOnDemand)
	require.NoError(t, err)
	assert.Equal(t, model.JobSucceeded, out.State)
	assert.Equal(t, 1, out.Snapshot.NewsTotal)

	p, err := env.Compare.Build(ctx, comparison.Request{
		Subjects: []string{"acme"},
		Period:   model.PeriodDaily,
		AsOf:     day.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, p.Subjects, 1)
	assert.Equal(t, out.Snapshot.ID, p.Subjects[0].Latest.ID)
}

func TestCompanyCommands(t *testing.T) {
	t.Setenv("SIGNALS_STORE_DATABASE_URL", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("SIGNALS_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"company", "add", "acme", "--name", "Acme"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "company acme saved (tracked=true)")

	out.Reset()
	rootCmd.SetArgs([]string{"company", "list"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "acme")
	assert.Contains(t, out.String(), "Acme")
}
