package race

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Failures are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns raw page bytes into records. No match is an empty slice, not an error.
type Parser interface {
	ParseVenues(body []byte) ([]string, error)
	ParseVenueSchedule(body []byte, venueCode, date string) ([]RaceScheduleEntry, error)
	ParseRaceEntries(body []byte, venueCode string, raceNumber int, date string) ([]RaceEntryRecord, error)
}

// Store persists collected records and the scrape log.
type Store interface {
	SaveSchedule(ctx context.Context, entries []RaceScheduleEntry) error
	SaveEntries(ctx context.Context, records []RaceEntryRecord) error
	ReadCachedSchedule(ctx context.Context, date string) ([]RaceScheduleEntry, error)
	ReadCachedEntries(ctx context.Context, venueCode string, raceNumber int, date string) ([]RaceEntryRecord, error)
	AppendScrapeLog(ctx context.Context, entry ScrapeLogEntry) error
	ScrapeStats(ctx context.Context, date string) (ScrapeStats, error)
	RecentScrapeLogs(ctx context.Context, date string, limit int) ([]ScrapeLogEntry, error)
	Close() error
}

// QuotaGuard gates live fetches against the daily quota.
type QuotaGuard interface {
	CanScrape() bool
	RecordScrape()
	// Acquire checks and records in one critical section.
	Acquire() bool
	SetCacheOnly(enabled bool)
	Snapshot() QuotaState
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes refresh requests to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scrape log IDs.
type IDGenerator interface {
	NewID() (string, error)
}
