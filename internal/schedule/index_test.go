package schedule

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func entry(date, venue string, n int, at string) race.RaceScheduleEntry {
	name, _ := race.VenueName(venue)
	return race.RaceScheduleEntry{
		Date: date, VenueCode: venue, VenueName: name, RaceNumber: n, ScheduledTime: at, Status: race.StatusScheduled,
	}
}

func TestReplaceGroupsAndSorts(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Replace("20250601", []race.RaceScheduleEntry{
		entry("20250601", "12", 2, "15:40"),
		entry("20250601", "01", 1, "15:00"),
		entry("20250601", "12", 1, "15:10"),
		entry("20250602", "03", 1, "10:00"),
	})

	require.True(t, x.Has("20250601"))
	require.False(t, x.Has("20250602"))

	day := x.Day("20250601")
	require.Len(t, day, 2)
	require.Equal(t, "01", day[0].VenueCode)
	require.Equal(t, "桐生", day[0].VenueName)
	require.Equal(t, "12", day[1].VenueCode)
	require.Equal(t, 1, day[1].Races[0].RaceNumber)
	require.Equal(t, 2, day[1].Races[1].RaceNumber)

	races := x.Races("20250601")
	require.Len(t, races, 3)
	require.Equal(t, "01", races[0].VenueCode)
}

func TestReplaceSupersedesWholeDay(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Replace("20250601", []race.RaceScheduleEntry{entry("20250601", "01", 1, "15:00"), entry("20250601", "02", 1, "15:00")})
	x.Replace("20250601", []race.RaceScheduleEntry{entry("20250601", "05", 1, "11:00")})

	day := x.Day("20250601")
	require.Len(t, day, 1)
	require.Equal(t, "05", day[0].VenueCode)

	_, ok := x.Venue("20250601", "01")
	require.False(t, ok)

	x.Replace("20250601", nil)
	require.False(t, x.Has("20250601"))
	require.Empty(t, x.Day("20250601"))
}

func TestVenueReturnsCopy(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Replace("20250601", []race.RaceScheduleEntry{entry("20250601", "01", 1, "15:00")})

	races, ok := x.Venue("20250601", "01")
	require.True(t, ok)
	races[0].ScheduledTime = "00:00"

	again, _ := x.Venue("20250601", "01")
	require.Equal(t, "15:00", again[0].ScheduledTime)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	for _, d := range []string{"20250530", "20250531", "20250601"} {
		x.Replace(d, []race.RaceScheduleEntry{entry(d, "01", 1, "15:00")})
	}
	require.Equal(t, 2, x.Prune("20250601"))
	require.Equal(t, []string{"20250601"}, x.Dates())
}

// TestConcurrentReadersAndWriter exercises the index under the race detector.
func TestConcurrentReadersAndWriter(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			x.Replace("20250601", []race.RaceScheduleEntry{entry("20250601", fmt.Sprintf("%02d", i+1), 1, "15:00")})
		}()
		go func() {
			defer wg.Done()
			_ = x.Day("20250601")
			_ = x.Races("20250601")
		}()
	}
	wg.Wait()
	require.Len(t, x.Day("20250601"), 1)
}
