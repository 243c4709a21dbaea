package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// offlineEnv keeps commands away from the network and the filesystem.
func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOATRACE_STORE_BACKEND", "memory")
	t.Setenv("BOATRACE_SCRAPING_CACHE_ONLY", "true")
	t.Setenv("BOATRACE_LOGGING_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVenuesListsAllCodes(t *testing.T) {
	out, err := execute(t, "venues")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 24)
	assert.True(t, strings.HasPrefix(lines[0], "01\t"))
	assert.True(t, strings.HasPrefix(lines[23], "24\t"))
}

// TestCollectCacheOnlyServesEmptyCache ensures cache-only collection succeeds with an empty store.
func TestCollectCacheOnlyServesEmptyCache(t *testing.T) {
	offlineEnv(t)

	out, err := execute(t, "collect", "--date", "20250601")
	require.NoError(t, err)

	var result race.ScheduleResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "20250601", result.Date)
	assert.Equal(t, race.SourceCache, result.Source)
	assert.Equal(t, race.FallbackQuotaExceeded, result.Fallback)
	assert.Empty(t, result.Entries)
}

func TestCollectRejectsBadDate(t *testing.T) {
	offlineEnv(t)

	_, err := execute(t, "collect", "--date", "2025-06-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, race.ErrInvalidDate)
}

func TestEntriesValidatesArguments(t *testing.T) {
	offlineEnv(t)

	_, err := execute(t, "entries", "25", "1")
	assert.ErrorIs(t, err, race.ErrInvalidVenue)

	_, err = execute(t, "entries", "01", "13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "race number must be 1-12")
}

func TestEntriesCacheMissFails(t *testing.T) {
	offlineEnv(t)

	out, err := execute(t, "entries", "01", "3", "--date", "20250601")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached data for race 202506010103")
	assert.Contains(t, out, `"status": "error"`)
}
