// Package postgres provides the Postgres-backed race store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RaceStore implements race.Store on Postgres.
type RaceStore struct {
	pool pool
}

var _ race.Store = (*RaceStore)(nil)

// New connects a pool and returns a RaceStore.
func New(ctx context.Context, cfg Config) (*RaceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RaceStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*RaceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RaceStore{pool: p}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS race_schedule (
	race_date      TEXT NOT NULL,
	venue_code     TEXT NOT NULL,
	venue_name     TEXT NOT NULL,
	race_number    INTEGER NOT NULL,
	scheduled_time TEXT NOT NULL,
	status         TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	weight       DOUBLE PRECISION NOT NULL,
	region       TEXT NOT NULL,
	branch       TEXT NOT NULL,
	motor_number INTEGER NOT NULL,
	boat_id      INTEGER NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (race_id, boat_number)
);
CREATE TABLE IF NOT EXISTS scraping_log (
	id               TEXT PRIMARY KEY,
	scraping_date    TEXT NOT NULL,
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms BIGINT NOT NULL,
	data_count       INTEGER NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scraping_log_date_idx ON scraping_log (scraping_date, created_at DESC);
`

// EnsureSchema creates the tables when missing.
func (s *RaceStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RaceStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const upsertSchedule = `
INSERT INTO race_schedule (race_date, venue_code, venue_name, race_number, scheduled_time, status, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (race_date, venue_code, race_number) DO UPDATE
SET venue_name = EXCLUDED.venue_name,
	scheduled_time = EXCLUDED.scheduled_time,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`

// SaveSchedule upserts schedule rows in one transaction.
func (s *RaceStore) SaveSchedule(ctx context.Context, entries []race.RaceScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schedule tx: %w", err)
	}
	for _, e := range entries {
		_, err := tx.Exec(ctx, upsertSchedule,
			e.Date, e.VenueCode, e.VenueName, e.RaceNumber, e.ScheduledTime, string(e.Status))
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert schedule %s: %w", e.RaceID(), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schedule tx: %w", err)
	}
	return nil
}

const upsertEntry = `
INSERT INTO race_entries (
	race_id, race_date, venue_code, race_number, boat_number,
	racer_id, racer_name, racer_class, age, weight,
	region, branch, motor_number, boat_id, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
ON CONFLICT (race_id, boat_number) DO UPDATE
SET racer_id = EXCLUDED.racer_id,
	racer_name = EXCLUDED.racer_name,
	racer_class = EXCLUDED.racer_class,
	age = EXCLUDED.age,
	weight = EXCLUDED.weight,
	region = EXCLUDED.region,
	branch = EXCLUDED.branch,
	motor_number = EXCLUDED.motor_number,
	boat_id = EXCLUDED.boat_id,
	updated_at = EXCLUDED.updated_at`

// SaveEntries upserts entry rows in one transaction.
func (s *RaceStore) SaveEntries(ctx context.Context, records []race.RaceEntryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin entries tx: %w", err)
	}
	for _, r := range records {
		_, err := tx.Exec(ctx, upsertEntry,
			r.RaceID, r.Date, r.VenueCode, r.RaceNumber, r.BoatNumber,
			r.RacerID, r.RacerName, r.Class, r.Age, r.Weight,
			r.Region, r.Branch, r.MotorNumber, r.BoatID)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert entry %s/%d: %w", r.RaceID, r.BoatNumber, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit entries tx: %w", err)
	}
	return nil
}

// ReadCachedSchedule returns the stored rows for date ordered by venue and race.
func (s *RaceStore) ReadCachedSchedule(ctx context.Context, date string) ([]race.RaceScheduleEntry, error) {
	query := `
SELECT race_date, venue_code, venue_name, race_number, scheduled_time, status
FROM race_schedule
WHERE race_date = $1
ORDER BY venue_code, race_number`
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	defer rows.Close()

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
	query := `
SELECT race_id, race_date, venue_code, race_number, boat_number,
	racer_id, racer_name, racer_class, age, weight,
	region, branch, motor_number, boat_id
FROM race_entries
WHERE race_id = $1
ORDER BY boat_number`
	rows, err := s.pool.Query(ctx, query, race.RaceID(date, venueCode, raceNumber))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

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
	query := `
INSERT INTO scraping_log (id, scraping_date, url, status, response_time_ms, data_count, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.Date,
		entry.URL,
		string(entry.Status),
		entry.ResponseTimeMs,
		entry.RecordCount,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scrape log: %w", err)
	}
	return nil
}

// ScrapeStats aggregates the log rows for date.
func (s *RaceStore) ScrapeStats(ctx context.Context, date string) (race.ScrapeStats, error) {
	query := `
SELECT COUNT(*),
	COUNT(*) FILTER (WHERE status = 'success'),
	COALESCE(AVG(response_time_ms), 0)::float8,
	COALESCE(SUM(data_count), 0)
FROM scraping_log
WHERE scraping_date = $1`
	var stats race.ScrapeStats
	err := s.pool.QueryRow(ctx, query, date).Scan(
		&stats.Total, &stats.Successful, &stats.AvgResponseMs, &stats.TotalRecords,
	)
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
	query := `
SELECT id, scraping_date, url, status, response_time_ms, data_count, error_message, created_at
FROM scraping_log
WHERE scraping_date = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := s.pool.Query(ctx, query, date, limit)
	if err != nil {
		return nil, fmt.Errorf("query scrape log: %w", err)
	}
	defer rows.Close()

	out := make([]race.ScrapeLogEntry, 0, limit)
	for rows.Next() {
		var (
			l      race.ScrapeLogEntry
			status string
		)
		if err := rows.Scan(
			&l.ID, &l.Date, &l.URL, &status, &l.ResponseTimeMs, &l.RecordCount, &l.ErrorMessage, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scrape log: %w", err)
		}
		l.Status = race.ScrapeStatus(status)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scrape log: %w", err)
	}
	return out, nil
}
