package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircheck-labs/aircheck-cli/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "ingest", "identify", "aggregate", "simulate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "aircheck-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	require.NotNil(t, ingestCmd.Flags().Lookup("dir"))
	replace := ingestCmd.Flags().Lookup("replace")
	require.NotNil(t, replace)
	assert.Equal(t, "false", replace.DefValue)
}

func TestIdentifyCommand_Flags(t *testing.T) {
	require.NotNil(t, identifyCmd.Flags().Lookup("dir"))

	limit := identifyCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "0", limit.DefValue)

	require.NotNil(t, identifyCmd.Flags().Lookup("workers"))
}

func TestAggregateCommand_Flags(t *testing.T) {
	dry := aggregateCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dry)
	assert.Equal(t, "false", dry.DefValue)
}

func TestSimulateCommand_Flags(t *testing.T) {
	for _, name := range []string{"profile", "days", "stations", "tracks", "seed", "peak-hours", "simulate-only", "process-only"} {
		assert.NotNil(t, simulateCmd.Flags().Lookup(name), "flag %q", name)
	}
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	cfg = &config.Config{}

	err := migrateCmd.RunE(migrateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestParseCatalogName(t *testing.T) {
	artist, title, err := parseCatalogName("Vera Lane - Night Drive.wav")
	require.NoError(t, err)
	assert.Equal(t, "Vera Lane", artist)
	assert.Equal(t, "Night Drive", title)

	// Only the first separator splits, so dashes survive in titles.
	artist, title, err = parseCatalogName("Glass Atlas - Run - Hide.wav")
	require.NoError(t, err)
	assert.Equal(t, "Glass Atlas", artist)
	assert.Equal(t, "Run - Hide", title)

	_, _, err = parseCatalogName("no-separator.wav")
	require.Error(t, err)

	_, _, err = parseCatalogName(" - Missing Artist.wav")
	require.Error(t, err)
}

func TestParseSnippetName(t *testing.T) {
	station, session, at, err := parseSnippetName("station-1_sess-abc_20260301T140000Z.wav")
	require.NoError(t, err)
	assert.Equal(t, "station-1", station)
	assert.Equal(t, "sess-abc", session)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), at)

	_, _, _, err = parseSnippetName("missing-parts.wav")
	require.Error(t, err)

	_, _, _, err = parseSnippetName("station-1_sess-abc_not-a-time.wav")
	require.Error(t, err)
}

func TestSimulationProfile_FlagOverrides(t *testing.T) {
	cfg = &config.Config{}
	simProfilePath = ""
	simSeed = 99
	simDays = 5
	simStations = 7
	simTracks = 0
	simPeakHours = "6,7"
	t.Cleanup(func() {
		simSeed, simDays, simStations, simPeakHours = 0, 0, 0, ""
	})

	p, err := simulationProfile()
	require.NoError(t, err)
	assert.Equal(t, int64(99), p.Seed)
	assert.Equal(t, 5, p.Days)
	assert.Equal(t, 7, p.Stations)
	assert.Equal(t, []int{6, 7}, p.PeakHours)
	// untouched fields keep their defaults
	assert.Equal(t, 10, p.Tracks)
}

func TestParsePeakHours(t *testing.T) {
	hours, err := parsePeakHours("7-9,17-19")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9, 17, 18, 19}, hours)

	hours, err = parsePeakHours("8")
	require.NoError(t, err)
	assert.Equal(t, []int{8}, hours)

	for _, bad := range []string{"9-7", "25", "-1", "x", ""} {
		_, err := parsePeakHours(bad)
		require.Error(t, err, "input %q", bad)
	}
}
