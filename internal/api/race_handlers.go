package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/schedule"
)

const sourceIndex = "schedule_index"

type venueRace struct {
	RaceNumber    int                 `json:"race_number"`
	ScheduledTime string              `json:"scheduled_time"`
	Status        race.ScheduleStatus `json:"status"`
}

type venueDTO struct {
	VenueCode string      `json:"venue_code"`
	VenueName string      `json:"venue_name"`
	IsActive  bool        `json:"is_active"`
	Races     []venueRace `json:"races"`
}

func toVenueDTOs(days []schedule.VenueRaces) []venueDTO {
	out := make([]venueDTO, 0, len(days))
	for _, v := range days {
		dto := venueDTO{VenueCode: v.VenueCode, VenueName: v.VenueName, IsActive: true, Races: make([]venueRace, 0, len(v.Races))}
		for _, e := range v.Races {
			dto.Races = append(dto.Races, venueRace{RaceNumber: e.RaceNumber, ScheduledTime: e.ScheduledTime, Status: e.Status})
		}
		out = append(out, dto)
	}
	return out
}

// groupByVenue builds the same grouping as the index for a collector result.
func groupByVenue(date string, entries []race.RaceScheduleEntry) []schedule.VenueRaces {
	idx := schedule.NewIndex()
	idx.Replace(date, entries)
	return idx.Day(date)
}

func countRaces(days []schedule.VenueRaces) int {
	n := 0
	for _, v := range days {
		n += len(v.Races)
	}
	return n
}

// dailySchedule handles GET /api/daily-schedule?date=YYYYMMDD.
func (s *Server) dailySchedule(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	source, fallback, estimated := sourceIndex, "", false
	days := s.index.Day(date)
	if len(days) == 0 {
		result := s.planner.Collect(r.Context(), date)
		days = groupByVenue(date, result.Entries)
		source, fallback, estimated = string(result.Source), string(result.Fallback), result.Estimated()
	}
	if len(days) == 0 {
		s.respondError(w, http.StatusNotFound, "schedule unavailable", "no cached data either")
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"date":          date,
		"venues":        toVenueDTOs(days),
		"total_venues":  len(days),
		"total_races":   countRaces(days),
		"data_source":   source,
		"fallback":      fallback,
		"has_estimated": estimated,
	}, "schedule loaded")
}

// venueSchedule handles GET /api/venue-schedule/{venue_code}?date=YYYYMMDD.
func (s *Server) venueSchedule(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseVenue(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	source, fallback := sourceIndex, ""
	races, ok := s.index.Venue(p.Date, p.VenueCode)
	if !ok {
		result := s.collector.FetchVenueSchedule(r.Context(), p.VenueCode, p.Date)
		races = result.Entries
		source, fallback = string(result.Source), string(result.Fallback)
	}
	if len(races) == 0 {
		s.respondError(w, http.StatusNotFound, "venue schedule unavailable", "check whether the venue races on this date")
		return
	}

	name, _ := race.VenueName(p.VenueCode)
	s.respond(w, http.StatusOK, map[string]any{
		"date":        p.Date,
		"venue_code":  p.VenueCode,
		"venue_name":  name,
		"races":       races,
		"data_source": source,
		"fallback":    fallback,
	}, "venue schedule loaded")
}

// raceEntries handles GET /api/race-entries/{venue_code}/{race_number}?date=YYYYMMDD.
func (s *Server) raceEntries(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseEntry(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ctx := r.Context()
	name, _ := race.VenueName(p.VenueCode)
	data := map[string]any{
		"race_id":     race.RaceID(p.Date, p.VenueCode, p.RaceNumber),
		"venue_code":  p.VenueCode,
		"venue_name":  name,
		"race_number": p.RaceNumber,
		"race_date":   p.Date,
	}

	if s.cache != nil {
		cached, hit, cacheErr := s.cache.GetEntries(ctx, p.VenueCode, p.RaceNumber, p.Date)
		if cacheErr != nil {
			s.logger.Warn("entry cache read failed", zap.Error(cacheErr))
		}
		if hit {
			data["racer_extraction"] = cached
			data["data_source"] = "response_cache"
			s.respond(w, http.StatusOK, data, "entries loaded")
			return
		}
	}

	result := s.collector.FetchRaceEntries(ctx, p.VenueCode, p.RaceNumber, p.Date)
	if result.Status != race.ResultSuccess {
		s.respondError(w, http.StatusNotFound, result.Message, "check whether the race is held")
		return
	}
	if s.cache != nil {
		if err := s.cache.SetEntries(ctx, p.VenueCode, p.RaceNumber, p.Date, result); err != nil {
			s.logger.Warn("entry cache write failed", zap.Error(err))
		}
	}
	data["racer_extraction"] = result
	data["data_source"] = string(result.Source)
	s.respond(w, http.StatusOK, data, "entries loaded")
}

type todayRace struct {
	RaceID        string `json:"race_id"`
	VenueCode     string `json:"venue_code"`
	VenueName     string `json:"venue_name"`
	RaceNumber    int    `json:"race_number"`
	ScheduledTime string `json:"scheduled_time"`
	IsActive      bool   `json:"is_active"`
}

// todayRaces handles GET /api/races/today. It never fetches.
func (s *Server) todayRaces(w http.ResponseWriter, r *http.Request) {
	today := s.planner.Today()
	source := sourceIndex
	entries := s.index.Races(today)
	if len(entries) == 0 {
		cached, err := s.store.ReadCachedSchedule(r.Context(), today)
		if err != nil {
			s.logger.Error("read cached schedule failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "failed to read schedule", "")
			return
		}
		entries, source = cached, string(race.SourceCache)
	}

	races := make([]todayRace, 0, len(entries))
	for _, e := range entries {
		races = append(races, todayRace{
			RaceID:        e.RaceID(),
			VenueCode:     e.VenueCode,
			VenueName:     e.VenueName,
			RaceNumber:    e.RaceNumber,
			ScheduledTime: e.ScheduledTime,
			IsActive:      e.Status == race.StatusScheduled,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{
		"date":        today,
		"races":       races,
		"data_source": source,
	}, "")
}

// venues handles GET /api/venues.
func (s *Server) venues(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"venues": race.Venues()}, "")
}
