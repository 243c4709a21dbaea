// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

type scheduleKey struct {
	date  string
	venue string
	race  int
}

type entryKey struct {
	raceID string
	boat   int
}

// RaceStore implements race.Store on maps. Saves upsert on the natural keys.
type RaceStore struct {
	mu       sync.RWMutex
	schedule map[scheduleKey]race.RaceScheduleEntry
	entries  map[entryKey]race.RaceEntryRecord
	logs     []race.ScrapeLogEntry
}

var _ race.Store = (*RaceStore)(nil)

// NewRaceStore constructs a RaceStore.
func NewRaceStore() *RaceStore {
	return &RaceStore{
		schedule: make(map[scheduleKey]race.RaceScheduleEntry),
		entries:  make(map[entryKey]race.RaceEntryRecord),
	}
}

// SaveSchedule upserts schedule rows.
func (s *RaceStore) SaveSchedule(_ context.Context, entries []race.RaceScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.schedule[scheduleKey{date: e.Date, venue: e.VenueCode, race: e.RaceNumber}] = e
	}
	return nil
}

// SaveEntries upserts entry rows.
func (s *RaceStore) SaveEntries(_ context.Context, records []race.RaceEntryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.entries[entryKey{raceID: r.RaceID, boat: r.BoatNumber}] = r
	}
	return nil
}

// ReadCachedSchedule returns the stored rows for date ordered by venue and race.
func (s *RaceStore) ReadCachedSchedule(_ context.Context, date string) ([]race.RaceScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]race.RaceScheduleEntry, 0)
	for k, e := range s.schedule {
		if k.date == date {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VenueCode != out[j].VenueCode {
			return out[i].VenueCode < out[j].VenueCode
		}
		return out[i].RaceNumber < out[j].RaceNumber
	})
	return out, nil
}

// ReadCachedEntries returns the stored boats for one race ordered by boat number.
func (s *RaceStore) ReadCachedEntries(
	_ context.Context,
	venueCode string,
	raceNumber int,
	date string,
) ([]race.RaceEntryRecord, error) {
	raceID := race.RaceID(date, venueCode, raceNumber)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]race.RaceEntryRecord, 0, race.MaxBoats)
	for k, r := range s.entries {
		if k.raceID == raceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoatNumber < out[j].BoatNumber })
	return out, nil
}

// AppendScrapeLog appends one log entry.
func (s *RaceStore) AppendScrapeLog(_ context.Context, entry race.ScrapeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ScrapeStats aggregates the log entries for date.
func (s *RaceStore) ScrapeStats(_ context.Context, date string) (race.ScrapeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		stats   race.ScrapeStats
		totalMs int64
	)
	for _, l := range s.logs {
		if l.Date != date {
			continue
		}
		stats.Total++
		if l.Status == race.ScrapeSuccess {
			stats.Successful++
		} else {
			stats.Failed++
		}
		totalMs += l.ResponseTimeMs
		stats.TotalRecords += l.RecordCount
	}
	if stats.Total > 0 {
		stats.AvgResponseMs = float64(totalMs) / float64(stats.Total)
	}
	return stats, nil
}

// RecentScrapeLogs returns up to limit entries for date, newest first.
func (s *RaceStore) RecentScrapeLogs(_ context.Context, date string, limit int) ([]race.ScrapeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]race.ScrapeLogEntry, 0)
	for i := len(s.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.logs[i].Date == date {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *RaceStore) Close() error {
	return nil
}
