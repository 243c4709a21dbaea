// Package schedule keeps the day-scoped in-memory race index the planner
// derives jobs from and the API reads.
package schedule

import (
	"sort"
	"sync"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// VenueRaces groups one venue's races for a day.
type VenueRaces struct {
	VenueCode string                   `json:"venue_code"`
	VenueName string                   `json:"venue_name"`
	Races     []race.RaceScheduleEntry `json:"races"`
}

// Index maps date -> venue -> races. Every method takes the lock for one
// operation only and returns copies.
type Index struct {
	mu   sync.RWMutex
	days map[string]map[string][]race.RaceScheduleEntry
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{days: make(map[string]map[string][]race.RaceScheduleEntry)}
}

// Replace swaps the whole day for entries. Entries for other dates are ignored.
// An empty entries slice clears the day.
func (x *Index) Replace(date string, entries []race.RaceScheduleEntry) {
	venues := make(map[string][]race.RaceScheduleEntry)
	for _, e := range entries {
		if e.Date != date {
			continue
		}
		venues[e.VenueCode] = append(venues[e.VenueCode], e)
	}
	for code := range venues {
		sortRaces(venues[code])
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if len(venues) == 0 {
		delete(x.days, date)
		return
	}
	x.days[date] = venues
}

// Has reports whether date has any races loaded.
func (x *Index) Has(date string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.days[date]) > 0
}

// Day returns the venues for date ordered by venue code.
func (x *Index) Day(date string) []VenueRaces {
	x.mu.RLock()
	defer x.mu.RUnlock()
	day := x.days[date]
	codes := make([]string, 0, len(day))
	for code := range day {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]VenueRaces, 0, len(codes))
	for _, code := range codes {
		races := append([]race.RaceScheduleEntry(nil), day[code]...)
		name := ""
		if len(races) > 0 {
			name = races[0].VenueName
		}
		out = append(out, VenueRaces{VenueCode: code, VenueName: name, Races: races})
	}
	return out
}

// Venue returns one venue's races for date.
func (x *Index) Venue(date, venueCode string) ([]race.RaceScheduleEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	races, ok := x.days[date][venueCode]
	if !ok {
		return nil, false
	}
	return append([]race.RaceScheduleEntry(nil), races...), true
}

// Races returns every race for date ordered by venue then race number.
func (x *Index) Races(date string) []race.RaceScheduleEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]race.RaceScheduleEntry, 0)
	for _, races := range x.days[date] {
		out = append(out, races...)
	}
	sortRaces(out)
	return out
}

// Dates returns the loaded dates in ascending order.
func (x *Index) Dates() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.days))
	for d := range x.days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Prune drops every day before keepFrom (YYYYMMDD compares lexically) and
// returns how many were removed.
func (x *Index) Prune(keepFrom string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	removed := 0
	for d := range x.days {
		if d < keepFrom {
			delete(x.days, d)
			removed++
		}
	}
	return removed
}

func sortRaces(races []race.RaceScheduleEntry) {
	sort.Slice(races, func(i, j int) bool {
		if races[i].VenueCode != races[j].VenueCode {
			return races[i].VenueCode < races[j].VenueCode
		}
		return races[i].RaceNumber < races[j].RaceNumber
	})
}
