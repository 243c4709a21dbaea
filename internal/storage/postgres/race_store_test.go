package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func newMockStore(t *testing.T) (*RaceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS race_schedule").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSaveScheduleUpsertsInTransaction ensures schedule rows are upserted inside one transaction.
func TestSaveScheduleUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	entries := []race.RaceScheduleEntry{
		{Date: "20250601", VenueCode: "01", VenueName: "桐生", RaceNumber: 1, ScheduledTime: "15:00", Status: race.StatusScheduled},
		{Date: "20250601", VenueCode: "01", VenueName: "桐生", RaceNumber: 2, ScheduledTime: "15:25", Status: race.StatusEstimated},
	}

	mock.ExpectBegin()
	for _, e := range entries {
		mock.ExpectExec("INSERT INTO race_schedule").
			WithArgs(e.Date, e.VenueCode, e.VenueName, e.RaceNumber, e.ScheduledTime, string(e.Status)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.SaveSchedule(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScheduleRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO race_schedule").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.SaveSchedule(context.Background(), []race.RaceScheduleEntry{
		{Date: "20250601", VenueCode: "01", RaceNumber: 1, ScheduledTime: "15:00", Status: race.StatusScheduled},
	})
	require.ErrorContains(t, err, "upsert schedule 202506010101")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScheduleEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.SaveSchedule(context.Background(), nil))
	require.NoError(t, store.SaveEntries(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	r := race.RaceEntryRecord{
		RaceID: "202506010103", Date: "20250601", VenueCode: "01", RaceNumber: 3, BoatNumber: 1,
		RacerID: "4320", RacerName: "峰 竜太", Class: "A1", Age: 38, Weight: 52.0,
		Region: "佐賀", Branch: "佐賀", MotorNumber: 23, BoatID: 45,
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO race_entries").
		WithArgs(r.RaceID, r.Date, r.VenueCode, r.RaceNumber, r.BoatNumber,
			r.RacerID, r.RacerName, r.Class, r.Age, r.Weight,
			r.Region, r.Branch, r.MotorNumber, r.BoatID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveEntries(context.Background(), []race.RaceEntryRecord{r}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadCachedSchedule(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"race_date", "venue_code", "venue_name", "race_number", "scheduled_time", "status"}).
		AddRow("20250601", "01", "桐生", 1, "15:00", "scheduled").
		AddRow("20250601", "01", "桐生", 2, "15:25", "estimated")
	mock.ExpectQuery("FROM race_schedule").WithArgs("20250601").WillReturnRows(rows)

	got, err := store.ReadCachedSchedule(context.Background(), "20250601")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, race.StatusEstimated, got[1].Status)
	require.Equal(t, "15:25", got[1].ScheduledTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadCachedEntriesEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cols := []string{
		"race_id", "race_date", "venue_code", "race_number", "boat_number",
		"racer_id", "racer_name", "racer_class", "age", "weight",
		"region", "branch", "motor_number", "boat_id",
	}
	mock.ExpectQuery("FROM race_entries").WithArgs("202506010103").WillReturnRows(pgxmock.NewRows(cols))

	got, err := store.ReadCachedEntries(context.Background(), "01", 3, "20250601")
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadCachedEntries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cols := []string{
		"race_id", "race_date", "venue_code", "race_number", "boat_number",
		"racer_id", "racer_name", "racer_class", "age", "weight",
		"region", "branch", "motor_number", "boat_id",
	}
	rows := pgxmock.NewRows(cols).
		AddRow("202506010103", "20250601", "01", 3, 1, "4320", "峰 竜太", "A1", 38, 52.0, "佐賀", "佐賀", 23, 45)
	mock.ExpectQuery("FROM race_entries").WithArgs("202506010103").WillReturnRows(rows)

	got, err := store.ReadCachedEntries(context.Background(), "01", 3, "20250601")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "峰 竜太", got[0].RacerName)
	require.InDelta(t, 52.0, got[0].Weight, 0.001)
	require.Equal(t, 45, got[0].BoatID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadCachedScheduleQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM race_schedule").WithArgs("20250601").WillReturnError(errors.New("down"))

	_, err := store.ReadCachedSchedule(context.Background(), "20250601")
	require.ErrorContains(t, err, "query schedule")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendScrapeLog(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1748736000, 0).UTC()
	entry := race.ScrapeLogEntry{
		ID: "log-1", Date: "20250601", URL: "https://www.boatrace.jp/owpc/pc/race/index?hd=20250601",
		Status: race.ScrapeSuccess, ResponseTimeMs: 420, RecordCount: 12, CreatedAt: now,
	}
	mock.ExpectExec("INSERT INTO scraping_log").
		WithArgs(entry.ID, entry.Date, entry.URL, "success", entry.ResponseTimeMs, entry.RecordCount, "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendScrapeLog(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScrapeStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM scraping_log").WithArgs("20250601").
		WillReturnRows(pgxmock.NewRows([]string{"total", "successful", "avg", "records"}).AddRow(4, 3, 250.0, 30))

	stats, err := store.ScrapeStats(context.Background(), "20250601")
	require.NoError(t, err)
	require.Equal(t, race.ScrapeStats{Total: 4, Successful: 3, Failed: 1, AvgResponseMs: 250, TotalRecords: 30}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScrapeLogs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1748736000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id", "scraping_date", "url", "status", "response_time_ms", "data_count", "error_message", "created_at"}).
		AddRow("log-2", "20250601", "u2", "error", int64(30000), 0, "fetch u2: timeout", now).
		AddRow("log-1", "20250601", "u1", "success", int64(400), 12, "", now.Add(-time.Minute))
	mock.ExpectQuery("FROM scraping_log").WithArgs("20250601", 20).WillReturnRows(rows)

	got, err := store.RecentScrapeLogs(context.Background(), "20250601", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, race.ScrapeError, got[0].Status)
	require.Equal(t, "fetch u2: timeout", got[0].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}
