package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/hash/sha256"
	"github.com/JakeFAU/boatrace-crawler/internal/quota"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/storage"
	"github.com/JakeFAU/boatrace-crawler/internal/storage/memory"
)

var jst = time.FixedZone("JST", 9*60*60)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "log-" + string(rune('a'+s.n-1)), nil
}

// stubFetcher answers from a URL table and records every call.
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	failures  map[string]error
	calls     []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{responses: map[string][]byte{}, failures: map[string]error{}}
}

func (f *stubFetcher) Fetch(_ context.Context, req race.FetchRequest) (race.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.failures[req.URL]; ok {
		return race.FetchResponse{}, err
	}
	body, ok := f.responses[req.URL]
	if !ok {
		return race.FetchResponse{}, race.NewHTTPError(req.URL, 404, nil)
	}
	return race.FetchResponse{URL: req.URL, StatusCode: 200, Body: body, Elapsed: 120 * time.Millisecond, Attempts: 1}, nil
}

func (f *stubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// stubParser maps page bodies to canned records.
type stubParser struct {
	venues   []string
	schedule map[string][]race.RaceScheduleEntry
	entries  []race.RaceEntryRecord
	err      error
}

func (p *stubParser) ParseVenues([]byte) ([]string, error) {
	return p.venues, p.err
}

func (p *stubParser) ParseVenueSchedule(_ []byte, venueCode, _ string) ([]race.RaceScheduleEntry, error) {
	return p.schedule[venueCode], p.err
}

func (p *stubParser) ParseRaceEntries([]byte, string, int, string) ([]race.RaceEntryRecord, error) {
	return p.entries, p.err
}

type harness struct {
	collector *Collector
	fetcher   *stubFetcher
	parser    *stubParser
	store     *memory.RaceStore
	blobs     *memory.BlobStore
	guard     *quota.Guard
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 6, 0, 0, 0, jst)}
	h := &harness{
		fetcher: newStubFetcher(),
		parser:  &stubParser{schedule: map[string][]race.RaceScheduleEntry{}},
		store:   memory.NewRaceStore(),
		blobs:   memory.NewBlobStore(),
		guard:   quota.New(quota.Config{Limit: limit}, clock, nil),
	}
	archiver, err := storage.NewArchiver(h.blobs, sha256.New(), "pages")
	require.NoError(t, err)
	h.collector = New(h.guard, h.fetcher, h.parser, h.store, archiver, clock, &seqIDs{},
		Config{BaseURL: "http://site.test/"}, nil)
	return h
}

func (h *harness) logs(t *testing.T, date string) []race.ScrapeLogEntry {
	t.Helper()
	logs, err := h.store.RecentScrapeLogs(context.Background(), date, 0)
	require.NoError(t, err)
	return logs
}

func scheduled(venue string, n int, at string) race.RaceScheduleEntry {
	return race.RaceScheduleEntry{
		Date: "20250601", VenueCode: venue, RaceNumber: n, ScheduledTime: at, Status: race.StatusScheduled,
	}
}

func TestURLs(t *testing.T) {
	t.Parallel()

	c := newHarness(t, 10).collector
	require.Equal(t, "http://site.test/owpc/pc/race/index?hd=20250601", c.LandingURL("20250601"))
	require.Equal(t, "http://site.test/owpc/pc/race/raceindex?jcd=01&hd=20250601", c.VenueURL("01", "20250601"))
	require.Equal(t, "http://site.test/owpc/pc/race/racelist?rno=3&jcd=01&hd=20250601", c.EntriesURL("01", 3, "20250601"))

	def := New(nil, nil, nil, nil, nil, nil, nil, Config{}, nil)
	require.Equal(t, "https://www.boatrace.jp/owpc/pc/race/index?hd=20250601", def.LandingURL("20250601"))
}

func TestVenueScheduleParseEmptyYieldsEstimated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.VenueURL("01", "20250601")] = []byte("<html>changed layout</html>")

	res := h.collector.FetchVenueSchedule(context.Background(), "01", "20250601")

	require.Len(t, res.Entries, 12)
	require.Equal(t, race.SourceLive, res.Source)
	require.Equal(t, race.FallbackParseEmpty, res.Fallback)
	require.True(t, res.Estimated())
	for i, e := range res.Entries {
		require.Equal(t, race.StatusEstimated, e.Status)
		require.Equal(t, i+1, e.RaceNumber)
		require.Equal(t, "桐生", e.VenueName)
		if i > 0 {
			require.Greater(t, e.ScheduledTime, res.Entries[i-1].ScheduledTime)
		}
	}
	require.Equal(t, "15:00", res.Entries[0].ScheduledTime)
	require.Equal(t, "19:35", res.Entries[11].ScheduledTime)

	saved, err := h.store.ReadCachedSchedule(context.Background(), "20250601")
	require.NoError(t, err)
	require.Len(t, saved, 12)

	logs := h.logs(t, "20250601")
	require.Len(t, logs, 1)
	require.Equal(t, race.ScrapeError, logs[0].Status)
	require.Equal(t, race.ErrParseEmpty.Error(), logs[0].ErrorMessage)
	require.Len(t, h.blobs.Paths(), 1)
}

func TestVenueScheduleLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.VenueURL("12", "20250601")] = []byte("<table/>")
	h.parser.schedule["12"] = []race.RaceScheduleEntry{scheduled("12", 1, "15:10"), scheduled("12", 2, "15:37")}

	res := h.collector.FetchVenueSchedule(context.Background(), "12", "20250601")
	require.Len(t, res.Entries, 2)
	require.Equal(t, race.FallbackNone, res.Fallback)
	require.Equal(t, "住之江", res.Entries[0].VenueName)

	logs := h.logs(t, "20250601")
	require.Len(t, logs, 1)
	require.Equal(t, race.ScrapeSuccess, logs[0].Status)
	require.Equal(t, 2, logs[0].RecordCount)
	require.Equal(t, int64(120), logs[0].ResponseTimeMs)
}

// TestVenueScheduleFetchErrorFallsBackToVenueCache serves cached venue rows when the live fetch fails.
func TestVenueScheduleFetchErrorFallsBackToVenueCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	ctx := context.Background()
	require.NoError(t, h.store.SaveSchedule(ctx, []race.RaceScheduleEntry{
		scheduled("01", 1, "15:00"), scheduled("02", 1, "15:05"),
	}))
	url := h.collector.VenueURL("01", "20250601")
	h.fetcher.failures[url] = &race.FetchError{Kind: race.FetchTimeout, URL: url}

	res := h.collector.FetchVenueSchedule(ctx, "01", "20250601")
	require.Equal(t, race.SourceCache, res.Source)
	require.Equal(t, race.FallbackFetchTimeout, res.Fallback)
	require.Len(t, res.Entries, 1)
	require.Equal(t, "01", res.Entries[0].VenueCode)

	logs := h.logs(t, "20250601")
	require.Len(t, logs, 1)
	require.Equal(t, race.ScrapeError, logs[0].Status)
}

func TestDailyScheduleQuotaExhaustedGoesStraightToCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.guard.RecordScrape()
	h.guard.RecordScrape()

	res := h.collector.FetchDailySchedule(context.Background(), "20250601")

	require.Empty(t, h.fetcher.Calls())
	require.NotNil(t, res.Entries)
	require.Empty(t, res.Entries)
	require.Equal(t, race.SourceCache, res.Source)
	require.Equal(t, race.FallbackQuotaExceeded, res.Fallback)
	require.Empty(t, h.logs(t, "20250601"))
	require.Equal(t, 2, h.guard.Snapshot().Count)
}

func TestDailyScheduleQuotaExhaustedReturnsCachedRows(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	ctx := context.Background()
	cached := []race.RaceScheduleEntry{scheduled("01", 1, "15:00"), scheduled("01", 2, "15:25")}
	require.NoError(t, h.store.SaveSchedule(ctx, cached))
	h.guard.RecordScrape()
	h.guard.RecordScrape()

	res := h.collector.FetchDailySchedule(ctx, "20250601")
	require.Empty(t, h.fetcher.Calls())
	require.Equal(t, cached, res.Entries)
}

// TestDailyScheduleWalksVenuesSequentially ensures venues are fetched one at a time in landing order.
func TestDailyScheduleWalksVenuesSequentially(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	c := h.collector
	h.fetcher.responses[c.LandingURL("20250601")] = []byte("landing")
	h.fetcher.responses[c.VenueURL("01", "20250601")] = []byte("v01")
	h.fetcher.responses[c.VenueURL("04", "20250601")] = []byte("v04")
	h.parser.venues = []string{"01", "04"}
	h.parser.schedule["01"] = []race.RaceScheduleEntry{scheduled("01", 1, "15:00")}
	h.parser.schedule["04"] = []race.RaceScheduleEntry{scheduled("04", 1, "10:45"), scheduled("04", 2, "11:12")}

	res := c.FetchDailySchedule(context.Background(), "20250601")

	require.Equal(t, race.SourceLive, res.Source)
	require.Len(t, res.Entries, 3)
	require.Equal(t, []string{
		c.LandingURL("20250601"), c.VenueURL("01", "20250601"), c.VenueURL("04", "20250601"),
	}, h.fetcher.Calls())
	require.Equal(t, 3, h.guard.Snapshot().Count)
	require.Len(t, h.logs(t, "20250601"), 3)
	require.Len(t, h.blobs.Paths(), 3)
}

// TestDailyScheduleQuotaRunsOutMidway keeps live rows collected before the budget ran out.
func TestDailyScheduleQuotaRunsOutMidway(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	c := h.collector
	ctx := context.Background()
	require.NoError(t, h.store.SaveSchedule(ctx, []race.RaceScheduleEntry{scheduled("04", 1, "10:45")}))
	h.fetcher.responses[c.LandingURL("20250601")] = []byte("landing")
	h.fetcher.responses[c.VenueURL("01", "20250601")] = []byte("v01")
	h.parser.venues = []string{"01", "04"}
	h.parser.schedule["01"] = []race.RaceScheduleEntry{scheduled("01", 1, "15:00")}

	res := c.FetchDailySchedule(ctx, "20250601")

	require.Len(t, h.fetcher.Calls(), 2)
	require.Len(t, res.Entries, 2)
	require.Equal(t, "01", res.Entries[0].VenueCode)
	require.Equal(t, "04", res.Entries[1].VenueCode)
	require.Equal(t, 2, h.guard.Snapshot().Count)
}

func TestDailyScheduleLandingFailureFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	url := h.collector.LandingURL("20250601")
	h.fetcher.failures[url] = race.NewHTTPError(url, 503, nil)

	res := h.collector.FetchDailySchedule(context.Background(), "20250601")
	require.Equal(t, race.SourceCache, res.Source)
	require.Equal(t, race.FallbackFetchHTTPError, res.Fallback)
	require.Empty(t, res.Entries)

	logs := h.logs(t, "20250601")
	require.Len(t, logs, 1)
	require.Contains(t, logs[0].ErrorMessage, "503")
}

func TestDailyScheduleNoVenuesFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.LandingURL("20250601")] = []byte("closed")

	res := h.collector.FetchDailySchedule(context.Background(), "20250601")
	require.Equal(t, race.FallbackParseEmpty, res.Fallback)
	require.Len(t, h.fetcher.Calls(), 1)
}

func TestDailySchedulePlainErrorIsParseError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.LandingURL("20250601")] = []byte("garbage")
	h.parser.err = errors.New("bad html")

	res := h.collector.FetchDailySchedule(context.Background(), "20250601")
	require.Equal(t, race.FallbackParseError, res.Fallback)
}

func TestRaceEntriesQuotaRefusedCacheMiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)

	res := h.collector.FetchRaceEntries(context.Background(), "01", 3, "20250601")

	require.Empty(t, h.fetcher.Calls())
	require.Equal(t, race.ResultError, res.Status)
	require.Empty(t, res.Racers)
	require.Zero(t, res.FoundCount)
	require.Equal(t, race.FallbackQuotaExceeded, res.Fallback)
	require.ErrorIs(t, res.Err, race.ErrCacheMiss)
	require.ErrorIs(t, res.Err, race.ErrQuotaExceeded)
	require.Contains(t, res.Message, "202506010103")
}

func TestRaceEntriesCacheOnlyServesCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.guard.SetCacheOnly(true)
	rec := race.RaceEntryRecord{RaceID: "202506010103", Date: "20250601", VenueCode: "01", RaceNumber: 3, BoatNumber: 1, RacerName: "峰 竜太"}
	require.NoError(t, h.store.SaveEntries(context.Background(), []race.RaceEntryRecord{rec}))

	res := h.collector.FetchRaceEntries(context.Background(), "01", 3, "20250601")
	require.Equal(t, race.ResultSuccess, res.Status)
	require.Equal(t, race.SourceCache, res.Source)
	require.Equal(t, 1, res.FoundCount)
	require.NoError(t, res.Err)
	require.Empty(t, h.fetcher.Calls())
}

func TestRaceEntriesLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.EntriesURL("01", 3, "20250601")] = []byte("entries")
	h.parser.entries = []race.RaceEntryRecord{
		{RaceID: "202506010103", Date: "20250601", VenueCode: "01", RaceNumber: 3, BoatNumber: 1},
		{RaceID: "202506010103", Date: "20250601", VenueCode: "01", RaceNumber: 3, BoatNumber: 2},
	}

	res := h.collector.FetchRaceEntries(context.Background(), "01", 3, "20250601")
	require.Equal(t, race.ResultSuccess, res.Status)
	require.Equal(t, race.SourceLive, res.Source)
	require.Equal(t, 2, res.FoundCount)

	saved, err := h.store.ReadCachedEntries(context.Background(), "01", 3, "20250601")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	logs := h.logs(t, "20250601")
	require.Len(t, logs, 1)
	require.Equal(t, 2, logs[0].RecordCount)
}

func TestRaceEntriesParseEmptyIsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.fetcher.responses[h.collector.EntriesURL("01", 3, "20250601")] = []byte("entries")

	res := h.collector.FetchRaceEntries(context.Background(), "01", 3, "20250601")
	require.Equal(t, race.ResultError, res.Status)
	require.Equal(t, race.FallbackParseEmpty, res.Fallback)
	require.ErrorIs(t, res.Err, race.ErrParseEmpty)
	require.Equal(t, 1, h.guard.Snapshot().Count)
}

func TestEstimatedScheduleCustom(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, nil, nil, nil, Config{
		Estimate: EstimateConfig{StartHour: 10, StartMinute: 30, Interval: 30 * time.Minute, Races: 3},
	}, nil)
	got := c.EstimatedSchedule("24", "20250601")
	require.Len(t, got, 3)
	require.Equal(t, []string{"10:30", "11:00", "11:30"},
		[]string{got[0].ScheduledTime, got[1].ScheduledTime, got[2].ScheduledTime})
	require.Equal(t, "大村", got[0].VenueName)
}

// TestEstimatedScheduleMidnightStart keeps an explicit 00:00 start instead of the default.
func TestEstimatedScheduleMidnightStart(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, nil, nil, nil, Config{
		Estimate: EstimateConfig{Interval: 30 * time.Minute, Races: 2},
	}, nil)
	got := c.EstimatedSchedule("01", "20250601")
	require.Len(t, got, 2)
	require.Equal(t, "00:00", got[0].ScheduledTime)
	require.Equal(t, "00:30", got[1].ScheduledTime)
}

func TestEstimatedScheduleNeverWrapsPastMidnight(t *testing.T) {
	t.Parallel()

	late := EstimateConfig{StartHour: 22, Interval: 25 * time.Minute, Races: 12}
	require.False(t, late.FitsDay())
	require.True(t, EstimateConfig{StartHour: 12, StartMinute: 59, Interval: time.Hour, Races: 12}.FitsDay())
	require.False(t, EstimateConfig{StartHour: 13, Interval: time.Hour, Races: 12}.FitsDay())

	c := New(nil, nil, nil, nil, nil, nil, nil, Config{Estimate: late}, nil)
	got := c.EstimatedSchedule("01", "20250601")
	require.Len(t, got, 12)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].ScheduledTime, got[i-1].ScheduledTime, "race %d", i+1)
	}
	require.Equal(t, "15:00", got[0].ScheduledTime)

	for _, e := range got {
		start, err := e.StartAt(jst)
		require.NoError(t, err)
		require.Equal(t, 1, start.Day())
	}
}
