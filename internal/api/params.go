package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

type dateParam struct {
	Date string `validate:"racedate"`
}

type venueParams struct {
	VenueCode string `validate:"venue"`
	Date      string `validate:"racedate"`
}

type entryParams struct {
	VenueCode  string `validate:"venue"`
	RaceNumber int    `validate:"min=1,max=12"`
	Date       string `validate:"racedate"`
}

type cacheOnlyRequest struct {
	Enable *bool `json:"enable"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("venue", func(fl validator.FieldLevel) bool {
		return race.ValidVenue(fl.Field().String())
	})
	_ = v.RegisterValidation("racedate", func(fl validator.FieldLevel) bool {
		return race.ValidDate(fl.Field().String())
	})
	return v
}

// paramError carries the user-facing message for a rejected parameter.
type paramError struct {
	field   string
	message string
}

func (e *paramError) Error() string {
	return e.field + ": " + e.message
}

var fieldMessages = map[string]paramError{
	"VenueCode":  {field: "venue_code", message: "venue code must be 01-24"},
	"RaceNumber": {field: "race_number", message: "race number must be 1-12"},
	"Date":       {field: "date", message: "date must be YYYYMMDD"},
}

func (s *Server) check(params any) error {
	err := s.validate.Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if pe, ok := fieldMessages[verrs[0].Field()]; ok {
			return &pe
		}
		return fmt.Errorf("invalid %s", strings.ToLower(verrs[0].Field()))
	}
	return fmt.Errorf("validate params: %w", err)
}

func (s *Server) dateOrToday(r *http.Request) string {
	if d := strings.TrimSpace(r.URL.Query().Get("date")); d != "" {
		return d
	}
	return s.planner.Today()
}

func (s *Server) parseDate(r *http.Request) (string, error) {
	p := dateParam{Date: s.dateOrToday(r)}
	return p.Date, s.check(p)
}

func (s *Server) parseVenue(r *http.Request) (venueParams, error) {
	p := venueParams{VenueCode: chi.URLParam(r, "venue_code"), Date: s.dateOrToday(r)}
	return p, s.check(p)
}

func (s *Server) parseEntry(r *http.Request) (entryParams, error) {
	p := entryParams{VenueCode: chi.URLParam(r, "venue_code"), Date: s.dateOrToday(r)}
	n, err := strconv.Atoi(chi.URLParam(r, "race_number"))
	if err != nil {
		pe := fieldMessages["RaceNumber"]
		return p, &pe
	}
	p.RaceNumber = n
	return p, s.check(p)
}
