package race

import (
	"fmt"
	"time"
)

// ScheduleStatus describes the lifecycle of a scheduled race.
type ScheduleStatus string

const (
	// StatusScheduled marks a race parsed from the venue time table.
	StatusScheduled ScheduleStatus = "scheduled"
	// StatusLive marks a race that is currently running.
	StatusLive ScheduleStatus = "live"
	// StatusCompleted marks a finished race.
	StatusCompleted ScheduleStatus = "completed"
	// StatusEstimated marks a synthesized row used when the time table could not be parsed.
	StatusEstimated ScheduleStatus = "estimated"
)

// RaceScheduleEntry is one race on one venue for one day.
type RaceScheduleEntry struct {
	Date          string         `json:"date"`
	VenueCode     string         `json:"venue_code"`
	VenueName     string         `json:"venue_name"`
	RaceNumber    int            `json:"race_number"`
	ScheduledTime string         `json:"scheduled_time"`
	Status        ScheduleStatus `json:"status"`
}

// RaceID returns the 12 character race identifier.
func (e RaceScheduleEntry) RaceID() string {
	return RaceID(e.Date, e.VenueCode, e.RaceNumber)
}

// StartAt resolves the scheduled start as a wall-clock time in loc.
func (e RaceScheduleEntry) StartAt(loc *time.Location) (time.Time, error) {
	day, err := ParseDate(e.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	clock, err := time.ParseInLocation("15:04", e.ScheduledTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse scheduled time %q: %w", e.ScheduledTime, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// RaceEntryRecord is one boat in one race.
type RaceEntryRecord struct {
	RaceID      string  `json:"race_id"`
	VenueCode   string  `json:"venue_code"`
	RaceNumber  int     `json:"race_number"`
	Date        string  `json:"date"`
	BoatNumber  int     `json:"boat_number"`
	RacerID     string  `json:"racer_id"`
	RacerName   string  `json:"racer_name"`
	Class       string  `json:"class"`
	Age         int     `json:"age"`
	Weight      float64 `json:"weight"`
	Region      string  `json:"region"`
	Branch      string  `json:"branch"`
	MotorNumber int     `json:"motor_number"`
	BoatID      int     `json:"boat_id"`
}

// ScrapeStatus is the outcome recorded for one fetch attempt.
type ScrapeStatus string

const (
	// ScrapeSuccess records a fetch that returned a body.
	ScrapeSuccess ScrapeStatus = "success"
	// ScrapeError records a fetch or parse failure.
	ScrapeError ScrapeStatus = "error"
)

// ScrapeLogEntry is appended once per live fetch attempt.
type ScrapeLogEntry struct {
	ID             string       `json:"id"`
	Date           string       `json:"date"`
	URL            string       `json:"url"`
	Status         ScrapeStatus `json:"status"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	RecordCount    int          `json:"record_count"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ScrapeStats aggregates the scrape log for one day.
type ScrapeStats struct {
	Total         int     `json:"total"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	TotalRecords  int     `json:"total_records"`
}

// Source says where a collector result came from.
type Source string

const (
	// SourceLive means the data was fetched during this call.
	SourceLive Source = "live"
	// SourceCache means the data was read from the persistent store.
	SourceCache Source = "cache"
)

// FallbackReason names why a collector operation read from the cache.
type FallbackReason string

const (
	// FallbackNone means no fallback happened.
	FallbackNone FallbackReason = ""
	// FallbackQuotaExceeded means the quota guard refused the fetch.
	FallbackQuotaExceeded FallbackReason = "quota_exceeded"
	// FallbackFetchTimeout means the fetch timed out.
	FallbackFetchTimeout FallbackReason = "fetch_timeout"
	// FallbackFetchHTTPError means the site answered with an error status.
	FallbackFetchHTTPError FallbackReason = "fetch_http_error"
	// FallbackFetchNetworkError means the request never got a response.
	FallbackFetchNetworkError FallbackReason = "fetch_network_error"
	// FallbackParseError means the page body could not be parsed at all.
	FallbackParseError FallbackReason = "parse_error"
	// FallbackParseEmpty means the page parsed but produced no records.
	FallbackParseEmpty FallbackReason = "parse_empty"
)

// ScheduleResult is returned by the schedule collector operations.
type ScheduleResult struct {
	Date     string              `json:"date"`
	Entries  []RaceScheduleEntry `json:"entries"`
	Source   Source              `json:"source"`
	Fallback FallbackReason      `json:"fallback,omitempty"`
}

// Estimated reports whether any entry was synthesized.
func (r ScheduleResult) Estimated() bool {
	for _, e := range r.Entries {
		if e.Status == StatusEstimated {
			return true
		}
	}
	return false
}

// ResultStatus is the terminal status of an entry lookup.
type ResultStatus string

const (
	// ResultSuccess means racers were found live or in the cache.
	ResultSuccess ResultStatus = "success"
	// ResultError means no racers could be produced.
	ResultError ResultStatus = "error"
)

// EntryResult is returned by the race entry collector operation.
type EntryResult struct {
	Status     ResultStatus      `json:"status"`
	Racers     []RaceEntryRecord `json:"racers"`
	FoundCount int               `json:"found_count"`
	Source     Source            `json:"source"`
	Fallback   FallbackReason    `json:"fallback,omitempty"`
	Message    string            `json:"message,omitempty"`
	Err        error             `json:"-"`
}

// QuotaState is a point-in-time view of the quota guard.
type QuotaState struct {
	Day       string `json:"day"`
	Count     int    `json:"count_today"`
	Limit     int    `json:"limit"`
	CacheOnly bool   `json:"cache_only_mode"`
}

// Remaining returns how many live fetches are still permitted today.
func (s QuotaState) Remaining() int {
	if s.CacheOnly || s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// FetchRequest describes one page fetch.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
}

// FetchResponse is a successful page fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

// ElapsedMs returns the elapsed fetch time in milliseconds.
func (r FetchResponse) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

// RefreshTrigger says what asked for a pre-race refresh.
type RefreshTrigger string

const (
	// TriggerOneShot is the per-race job firing one lead time before start.
	TriggerOneShot RefreshTrigger = "one_shot"
	// TriggerSweep is the hourly backstop sweep.
	TriggerSweep RefreshTrigger = "sweep"
)

// RefreshRequest is handed to the pre-race refresh worker.
type RefreshRequest struct {
	JobID         string         `json:"job_id"`
	RaceID        string         `json:"race_id"`
	VenueCode     string         `json:"venue_code"`
	VenueName     string         `json:"venue_name"`
	RaceNumber    int            `json:"race_number"`
	Date          string         `json:"date"`
	ScheduledTime string         `json:"scheduled_time"`
	Trigger       RefreshTrigger `json:"trigger"`
	RequestedAt   time.Time      `json:"requested_at"`
}

// Attributes returns broker message attributes for routing and filtering.
func (r RefreshRequest) Attributes() map[string]string {
	return map[string]string{
		"job_id":  r.JobID,
		"race_id": r.RaceID,
		"venue":   r.VenueCode,
		"trigger": string(r.Trigger),
	}
}
