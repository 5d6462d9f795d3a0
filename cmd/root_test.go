package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "migrate", "snapshot", "recompute", "ingest", "graph", "compare", "jobs", "company"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "market-signals", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "missing --%s", name)
		assert.Empty(t, flag.DefValue)
	}
}

func TestSnapshotCompute_Flags(t *testing.T) {
	flag := snapshotComputeCmd.Flags().Lookup("company")
	require.NotNil(t, flag)

	period := snapshotComputeCmd.Flags().Lookup("period")
	require.NotNil(t, period)
	assert.Equal(t, "daily", period.DefValue)

	start := snapshotComputeCmd.Flags().Lookup("start")
	require.NotNil(t, start)
	assert.Contains(t, start.Usage, "Monday")

	align := snapshotComputeCmd.Flags().Lookup("align")
	require.NotNil(t, align)
	assert.Equal(t, "false", align.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCompareCommand_Flags(t *testing.T) {
	format := compareCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "json", format.DefValue)

	lookback := compareCmd.Flags().Lookup("lookback")
	require.NotNil(t, lookback)
	assert.Equal(t, "8", lookback.DefValue)
}

func TestNestedSubcommands(t *testing.T) {
	tests := map[string][]string{
		"snapshot":  {"compute", "latest", "list"},
		"recompute": {"batch", "scheduled"},
		"ingest":    {"extraction", "news"},
		"graph":     {"sync", "edges"},
		"jobs":      {"list", "stats"},
		"company":   {"add", "list"},
	}
	for parent, children := range tests {
		cmd, _, err := rootCmd.Find([]string{parent})
		require.NoError(t, err, parent)
		names := make(map[string]bool)
		for _, c := range cmd.Commands() {
			names[c.Name()] = true
		}
		for _, child := range children {
			assert.True(t, names[child], "%s %s not registered", parent, child)
		}
	}
}
