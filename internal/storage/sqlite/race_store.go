// Package sqlite provides a single-file race store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Config locates the database file.
type Config struct {
	Path          string
	BusyTimeoutMs int
}

// RaceStore implements race.Store on SQLite.
type RaceStore struct {
	db *sql.DB
}

var _ race.Store = (*RaceStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS race_schedule (
	race_date      TEXT NOT NULL,
	venue_code     TEXT NOT NULL,
	venue_name     TEXT NOT NULL,
	race_number    INTEGER NOT NULL,
	scheduled_time TEXT NOT NULL,
	status         TEXT NOT NULL,
	updated_at     INTEGER NOT NULL,
	UNIQUE (race_date, venue_code, race_number)
);
CREATE TABLE IF NOT EXISTS race_entries (
	race_id      TEXT NOT NULL,
	race_date    TEXT NOT NULL,
	venue_code   TEXT NOT NULL,
	race_number  INTEGER NOT NULL,
	boat_number  INTEGER NOT NULL,
	racer_id     TEXT NOT NULL,
	racer_name   TEXT NOT NULL,
	racer_class  TEXT NOT NULL,
	age          INTEGER NOT NULL,
	weight       REAL NOT NULL,
	region       TEXT NOT NULL,
	branch       TEXT NOT NULL,
	motor_number INTEGER NOT NULL,
	boat_id      INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE (race_id, boat_number)
);
CREATE TABLE IF NOT EXISTS scraping_log (
	id               TEXT PRIMARY KEY,
	scraping_date    TEXT NOT NULL,
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	data_count       INTEGER NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scraping_log_date_idx ON scraping_log (scraping_date, created_at);
`

// Open opens (creating if needed) the database file and applies the schema.
func Open(ctx context.Context, cfg Config) (*RaceStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 10_000
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMs),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RaceStore{db: db}, nil
}

// Close closes the database.
func (s *RaceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSchedule upserts schedule rows in one transaction.
func (s *RaceStore) SaveSchedule(ctx context.Context, entries []race.RaceScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `
INSERT INTO race_schedule (race_date, venue_code, venue_name, race_number, scheduled_time, status, updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT (race_date, venue_code, race_number) DO UPDATE
SET venue_name = excluded.venue_name,
	scheduled_time = excluded.scheduled_time,
	status = excluded.status,
	updated_at = excluded.updated_at`
	now := time.Now().UnixNano()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			_, err := tx.ExecContext(ctx, query,
				e.Date, e.VenueCode, e.VenueName, e.RaceNumber, e.ScheduledTime, string(e.Status), now)
			if err != nil {
				return fmt.Errorf("upsert schedule %s: %w", e.RaceID(), err)
			}
		}
		return nil
	})
}

// SaveEntries upserts entry rows in one transaction.
func (s *RaceStore) SaveEntries(ctx context.Context, records []race.RaceEntryRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := `
INSERT INTO race_entries (
	race_id, race_date, venue_code, race_number, boat_number,
	racer_id, racer_name, racer_class, age, weight,
	region, branch, motor_number, boat_id, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (race_id, boat_number) DO UPDATE
SET racer_id = excluded.racer_id,
	racer_name = excluded.racer_name,
	racer_class = excluded.racer_class,
	age = excluded.age,
	weight = excluded.weight,
	region = excluded.region,
	branch = excluded.branch,
	motor_number = excluded.motor_number,
	boat_id = excluded.boat_id,
	updated_at = excluded.updated_at`
	now := time.Now().UnixNano()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			_, err := tx.ExecContext(ctx, query,
				r.RaceID, r.Date, r.VenueCode, r.RaceNumber, r.BoatNumber,
				r.RacerID, r.RacerName, r.Class, r.Age, r.Weight,
				r.Region, r.Branch, r.MotorNumber, r.BoatID, now)
			if err != nil {
				return fmt.Errorf("upsert entry %s/%d: %w", r.RaceID, r.BoatNumber, err)
			}
		}
		return nil
	})
}

// ReadCachedSchedule returns the stored rows for date ordered by venue and race.
func (s *RaceStore) ReadCachedSchedule(ctx context.Context, date string) ([]race.RaceScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT race_date, venue_code, venue_name, race_number, scheduled_time, status
FROM race_schedule
WHERE race_date = ?
ORDER BY venue_code, race_number`, date)
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]race.RaceScheduleEntry, 0)
	for rows.Next() {
		var (
			e      race.RaceScheduleEntry
			status string
		)
		if err := rows.Scan(&e.Date, &e.VenueCode, &e.VenueName, &e.RaceNumber, &e.ScheduledTime, &status); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		e.Status = race.ScheduleStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule: %w", err)
	}
	return out, nil
}

// ReadCachedEntries returns the stored boats for one race ordered by boat number.
func (s *RaceStore) ReadCachedEntries(
	ctx context.Context,
	venueCode string,
	raceNumber int,
	date string,
) ([]race.RaceEntryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT race_id, race_date, venue_code, race_number, boat_number,
	racer_id, racer_name, racer_class, age, weight,
	region, branch, motor_number, boat_id
FROM race_entries
WHERE race_id = ?
ORDER BY boat_number`, race.RaceID(date, venueCode, raceNumber))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]race.RaceEntryRecord, 0, race.MaxBoats)
	for rows.Next() {
		var r race.RaceEntryRecord
		if err := rows.Scan(
			&r.RaceID, &r.Date, &r.VenueCode, &r.RaceNumber, &r.BoatNumber,
			&r.RacerID, &r.RacerName, &r.Class, &r.Age, &r.Weight,
			&r.Region, &r.Branch, &r.MotorNumber, &r.BoatID,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// AppendScrapeLog inserts one log row.
func (s *RaceStore) AppendScrapeLog(ctx context.Context, entry race.ScrapeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scraping_log (id, scraping_date, url, status, response_time_ms, data_count, error_message, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		entry.ID,
		entry.Date,
		entry.URL,
		string(entry.Status),
		entry.ResponseTimeMs,
		entry.RecordCount,
		entry.ErrorMessage,
		entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scrape log: %w", err)
	}
	return nil
}

// ScrapeStats aggregates the log rows for date.
func (s *RaceStore) ScrapeStats(ctx context.Context, date string) (race.ScrapeStats, error) {
	var stats race.ScrapeStats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(response_time_ms), 0.0),
	COALESCE(SUM(data_count), 0)
FROM scraping_log
WHERE scraping_date = ?`, date).Scan(&stats.Total, &stats.Successful, &stats.AvgResponseMs, &stats.TotalRecords)
	if err != nil {
		return race.ScrapeStats{}, fmt.Errorf("query scrape stats: %w", err)
	}
	stats.Failed = stats.Total - stats.Successful
	return stats, nil
}

// RecentScrapeLogs returns up to limit rows for date, newest first.
func (s *RaceStore) RecentScrapeLogs(ctx context.Context, date string, limit int) ([]race.ScrapeLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, scraping_date, url, status, response_time_ms, data_count, error_message, created_at
FROM scraping_log
WHERE scraping_date = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("query scrape log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]race.ScrapeLogEntry, 0, limit)
	for rows.Next() {
		var (
			l         race.ScrapeLogEntry
			status    string
			createdAt int64
		)
		if err := rows.Scan(
			&l.ID, &l.Date, &l.URL, &status, &l.ResponseTimeMs, &l.RecordCount, &l.ErrorMessage, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan scrape log: %w", err)
		}
		l.Status = race.ScrapeStatus(status)
		l.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scrape log: %w", err)
	}
	return out, nil
}

func (s *RaceStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
