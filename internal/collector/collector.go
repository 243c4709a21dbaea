// Package collector turns boatrace.jp pages into schedule and entry records.
//
// Every operation asks the quota guard before touching the network and falls
// back to the persistent store when the guard refuses, the fetch fails or the
// page does not parse. Operations never return errors; the result says where
// the data came from and why.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/storage"
)

// DefaultBaseURL is the public site root.
const DefaultBaseURL = "https://www.boatrace.jp"

// Operation names used in logs and fallback metrics.
const (
	opDaily   = "daily_schedule"
	opVenue   = "venue_schedule"
	opEntries = "race_entries"
)

// EstimateConfig shapes the synthesized schedule used when a time table is unreadable.
type EstimateConfig struct {
	StartHour   int
	StartMinute int
	Interval    time.Duration
	Races       int
}

// DefaultEstimate is 12 races from 15:00, 25 minutes apart.
func DefaultEstimate() EstimateConfig {
	return EstimateConfig{StartHour: 15, Interval: 25 * time.Minute, Races: race.MaxRaceNumber}
}

// FitsDay reports whether the last estimated race starts by 23:59, so the
// HH:MM times stay strictly increasing within the race day.
func (e EstimateConfig) FitsDay() bool {
	first := time.Duration(e.StartHour)*time.Hour + time.Duration(e.StartMinute)*time.Minute
	last := first + time.Duration(e.Races-1)*e.Interval
	return first >= 0 && last < 24*time.Hour
}

// Config controls URLs and timeouts.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Estimate EstimateConfig
}

// Archiver stores raw page bodies. It may be nil.
type Archiver interface {
	Archive(ctx context.Context, date, kind string, body []byte) (string, error)
}

// Collector orchestrates quota, fetcher, parser and store.
type Collector struct {
	quota    race.QuotaGuard
	fetcher  race.Fetcher
	parser   race.Parser
	store    race.Store
	archiver Archiver
	clock    race.Clock
	ids      race.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Collector. archiver may be nil.
func New(
	quota race.QuotaGuard,
	fetcher race.Fetcher,
	parser race.Parser,
	store race.Store,
	archiver Archiver,
	clock race.Clock,
	ids race.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	def := DefaultEstimate()
	if cfg.Estimate == (EstimateConfig{}) {
		cfg.Estimate = def
	}
	if cfg.Estimate.Races <= 0 {
		cfg.Estimate.Races = def.Races
	}
	if cfg.Estimate.Interval <= 0 {
		cfg.Estimate.Interval = def.Interval
	}
	if !cfg.Estimate.FitsDay() {
		logger.Warn("estimated schedule runs past midnight, using default",
			zap.Int("start_hour", cfg.Estimate.StartHour),
			zap.Int("start_minute", cfg.Estimate.StartMinute),
			zap.Duration("interval", cfg.Estimate.Interval),
			zap.Int("races", cfg.Estimate.Races))
		cfg.Estimate = def
	}
	return &Collector{
		quota:    quota,
		fetcher:  fetcher,
		parser:   parser,
		store:    store,
		archiver: archiver,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// LandingURL is the page listing the venues open on date.
func (c *Collector) LandingURL(date string) string {
	return fmt.Sprintf("%s/owpc/pc/race/index?hd=%s", c.cfg.BaseURL, date)
}

// VenueURL is one venue's race time table.
func (c *Collector) VenueURL(venueCode, date string) string {
	return fmt.Sprintf("%s/owpc/pc/race/raceindex?jcd=%s&hd=%s", c.cfg.BaseURL, venueCode, date)
}

// EntriesURL is one race's entry list.
func (c *Collector) EntriesURL(venueCode string, raceNumber int, date string) string {
	return fmt.Sprintf("%s/owpc/pc/race/racelist?rno=%d&jcd=%s&hd=%s", c.cfg.BaseURL, raceNumber, venueCode, date)
}

// FetchDailySchedule collects every open venue's schedule for date.
// Venues are processed one after another so the fetch cooldown holds.
func (c *Collector) FetchDailySchedule(ctx context.Context, date string) race.ScheduleResult {
	if !c.quota.Acquire() {
		return c.cachedSchedule(ctx, opDaily, date, "", race.ErrQuotaExceeded)
	}

	url := c.LandingURL(date)
	body, elapsed, err := c.fetch(ctx, storage.KindLanding, date, url)
	if err != nil {
		return c.cachedSchedule(ctx, opDaily, date, "", err)
	}
	venues, err := c.parser.ParseVenues(body)
	if err == nil && len(venues) == 0 {
		err = race.ErrParseEmpty
	}
	if err != nil {
		c.logAttempt(ctx, date, url, elapsed, 0, err)
		return c.cachedSchedule(ctx, opDaily, date, "", err)
	}
	c.logAttempt(ctx, date, url, elapsed, len(venues), nil)
	c.logger.Info("open venues found", zap.String("date", date), zap.Strings("venues", venues))

	entries := make([]race.RaceScheduleEntry, 0, len(venues)*race.MaxRaceNumber)
	for i, venue := range venues {
		if ctx.Err() != nil {
			c.logger.Warn("daily collection interrupted",
				zap.String("date", date), zap.Int("venues_done", i), zap.Int("venues_total", len(venues)))
			break
		}
		result := c.FetchVenueSchedule(ctx, venue, date)
		entries = append(entries, result.Entries...)
	}
	return race.ScheduleResult{Date: date, Entries: entries, Source: race.SourceLive}
}

// FetchVenueSchedule collects one venue's time table. A page that parses to
// nothing yields the estimated schedule instead of an empty result.
func (c *Collector) FetchVenueSchedule(ctx context.Context, venueCode, date string) race.ScheduleResult {
	if !c.quota.Acquire() {
		return c.cachedSchedule(ctx, opVenue, date, venueCode, race.ErrQuotaExceeded)
	}

	url := c.VenueURL(venueCode, date)
	body, elapsed, err := c.fetch(ctx, storage.KindSchedule, date, url)
	if err != nil {
		return c.cachedSchedule(ctx, opVenue, date, venueCode, err)
	}
	rows, err := c.parser.ParseVenueSchedule(body, venueCode, date)
	if err != nil {
		c.logAttempt(ctx, date, url, elapsed, 0, err)
		return c.cachedSchedule(ctx, opVenue, date, venueCode, err)
	}

	result := race.ScheduleResult{Date: date, Source: race.SourceLive}
	if len(rows) == 0 {
		c.logAttempt(ctx, date, url, elapsed, 0, race.ErrParseEmpty)
		rows = c.EstimatedSchedule(venueCode, date)
		result.Fallback = race.FallbackParseEmpty
		metrics.ObserveFallback(opVenue, string(race.FallbackParseEmpty))
		c.logger.Warn("time table empty, using estimated schedule",
			zap.String("venue", venueCode), zap.String("date", date), zap.Int("races", len(rows)))
	} else {
		c.logAttempt(ctx, date, url, elapsed, len(rows), nil)
	}

	name, _ := race.VenueName(venueCode)
	for i := range rows {
		if rows[i].VenueName == "" {
			rows[i].VenueName = name
		}
	}
	if err := c.store.SaveSchedule(ctx, rows); err != nil {
		c.logger.Error("save schedule failed", zap.String("venue", venueCode), zap.String("date", date), zap.Error(err))
	}
	result.Entries = rows
	return result
}

// FetchRaceEntries collects the boats entered in one race.
// When neither the site nor the cache has them the result status is error.
func (c *Collector) FetchRaceEntries(ctx context.Context, venueCode string, raceNumber int, date string) race.EntryResult {
	if !c.quota.Acquire() {
		return c.cachedEntries(ctx, venueCode, raceNumber, date, race.ErrQuotaExceeded)
	}

	url := c.EntriesURL(venueCode, raceNumber, date)
	body, elapsed, err := c.fetch(ctx, storage.KindEntries, date, url)
	if err != nil {
		return c.cachedEntries(ctx, venueCode, raceNumber, date, err)
	}
	records, err := c.parser.ParseRaceEntries(body, venueCode, raceNumber, date)
	if err == nil && len(records) == 0 {
		err = race.ErrParseEmpty
	}
	if err != nil {
		c.logAttempt(ctx, date, url, elapsed, 0, err)
		return c.cachedEntries(ctx, venueCode, raceNumber, date, err)
	}
	c.logAttempt(ctx, date, url, elapsed, len(records), nil)

	if err := c.store.SaveEntries(ctx, records); err != nil {
		c.logger.Error("save entries failed",
			zap.String("venue", venueCode), zap.Int("race", raceNumber), zap.String("date", date), zap.Error(err))
	}
	return race.EntryResult{
		Status:     race.ResultSuccess,
		Racers:     records,
		FoundCount: len(records),
		Source:     race.SourceLive,
	}
}

// EstimatedSchedule synthesizes a time table for venueCode on date.
func (c *Collector) EstimatedSchedule(venueCode, date string) []race.RaceScheduleEntry {
	est := c.cfg.Estimate
	name, _ := race.VenueName(venueCode)
	start := time.Date(2000, 1, 1, est.StartHour, est.StartMinute, 0, 0, time.UTC)
	out := make([]race.RaceScheduleEntry, 0, est.Races)
	for i := range est.Races {
		out = append(out, race.RaceScheduleEntry{
			Date:          date,
			VenueCode:     venueCode,
			VenueName:     name,
			RaceNumber:    i + 1,
			ScheduledTime: start.Add(time.Duration(i) * est.Interval).Format("15:04"),
			Status:        race.StatusEstimated,
		})
	}
	return out
}

// fetch performs one live request. Failures are logged to the scrape log here;
// successes are logged by the caller once the record count is known.
func (c *Collector) fetch(ctx context.Context, kind, date, url string) ([]byte, int64, error) {
	start := c.clock.Now()
	resp, err := c.fetcher.Fetch(ctx, race.FetchRequest{URL: url, Timeout: c.cfg.Timeout})
	if err != nil {
		fe := race.ClassifyTransportError(url, err)
		elapsed := c.clock.Now().Sub(start)
		metrics.ObserveFetch(kind, string(fe.Kind), elapsed)
		c.logAttempt(ctx, date, url, elapsed.Milliseconds(), 0, fe)
		return nil, elapsed.Milliseconds(), fe
	}
	metrics.ObserveFetch(kind, "success", resp.Elapsed)
	c.logger.Info("page fetched",
		zap.String("kind", kind),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempts", resp.Attempts),
		zap.Duration("elapsed", resp.Elapsed))
	c.archive(ctx, date, kind, resp.Body)
	return resp.Body, resp.ElapsedMs(), nil
}

func (c *Collector) archive(ctx context.Context, date, kind string, body []byte) {
	if c.archiver == nil {
		return
	}
	if _, err := c.archiver.Archive(ctx, date, kind, body); err != nil {
		c.logger.Warn("archive page failed", zap.String("kind", kind), zap.String("date", date), zap.Error(err))
	}
}

func (c *Collector) logAttempt(ctx context.Context, date, url string, elapsedMs int64, count int, cause error) {
	entry := race.ScrapeLogEntry{
		ID:             c.newID(),
		Date:           date,
		URL:            url,
		Status:         race.ScrapeSuccess,
		ResponseTimeMs: elapsedMs,
		RecordCount:    count,
		CreatedAt:      c.clock.Now(),
	}
	if cause != nil {
		entry.Status = race.ScrapeError
		entry.ErrorMessage = cause.Error()
	}
	if err := c.store.AppendScrapeLog(ctx, entry); err != nil {
		c.logger.Error("append scrape log failed", zap.String("url", url), zap.Error(err))
	}
}

func (c *Collector) newID() string {
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("id generation failed", zap.Error(err))
		return fmt.Sprintf("log-%d", c.clock.Now().UnixNano())
	}
	return id
}

// cachedSchedule answers from the store. venueCode filters when set.
func (c *Collector) cachedSchedule(
	ctx context.Context,
	op, date, venueCode string,
	cause error,
) race.ScheduleResult {
	reason := race.FallbackFor(cause)
	metrics.ObserveFallback(op, string(reason))
	c.logger.Warn("serving schedule from cache",
		zap.String("operation", op),
		zap.String("date", date),
		zap.String("venue", venueCode),
		zap.String("reason", string(reason)),
		zap.Error(cause))

	cached, err := c.store.ReadCachedSchedule(ctx, date)
	if err != nil {
		c.logger.Error("read cached schedule failed", zap.String("date", date), zap.Error(err))
		cached = nil
	}
	entries := make([]race.RaceScheduleEntry, 0, len(cached))
	for _, e := range cached {
		if venueCode == "" || e.VenueCode == venueCode {
			entries = append(entries, e)
		}
	}
	return race.ScheduleResult{Date: date, Entries: entries, Source: race.SourceCache, Fallback: reason}
}

func (c *Collector) cachedEntries(
	ctx context.Context,
	venueCode string,
	raceNumber int,
	date string,
	cause error,
) race.EntryResult {
	reason := race.FallbackFor(cause)
	metrics.ObserveFallback(opEntries, string(reason))
	c.logger.Warn("serving entries from cache",
		zap.String("venue", venueCode),
		zap.Int("race", raceNumber),
		zap.String("date", date),
		zap.String("reason", string(reason)),
		zap.Error(cause))

	records, err := c.store.ReadCachedEntries(ctx, venueCode, raceNumber, date)
	if err != nil && !errors.Is(err, race.ErrNotFound) {
		c.logger.Error("read cached entries failed", zap.String("venue", venueCode), zap.Int("race", raceNumber), zap.Error(err))
	}
	if len(records) == 0 {
		return race.EntryResult{
			Status:   race.ResultError,
			Racers:   []race.RaceEntryRecord{},
			Source:   race.SourceCache,
			Fallback: reason,
			Message:  fmt.Sprintf("no cached data for race %s", race.RaceID(date, venueCode, raceNumber)),
			Err:      fmt.Errorf("%w: %w", race.ErrCacheMiss, cause),
		}
	}
	return race.EntryResult{
		Status:     race.ResultSuccess,
		Racers:     records,
		FoundCount: len(records),
		Source:     race.SourceCache,
		Fallback:   reason,
		Message:    "served from cache",
	}
}
