package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/planner"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/schedule"
	"github.com/JakeFAU/boatrace-crawler/internal/scheduler"
)

// Collector is the part of the collector the API serves from. Whole-day
// collection goes through the Planner so the index is rebuilt.
type Collector interface {
	FetchVenueSchedule(ctx context.Context, venueCode, date string) race.ScheduleResult
	FetchRaceEntries(ctx context.Context, venueCode string, raceNumber int, date string) race.EntryResult
}

// EntryCache caches successful entry lookups.
type EntryCache interface {
	GetEntries(ctx context.Context, venueCode string, raceNumber int, date string) (race.EntryResult, bool, error)
	SetEntries(ctx context.Context, venueCode string, raceNumber int, date string, result race.EntryResult) error
}

// Planner reports the race day and its state, and collects a whole day into
// the schedule index.
type Planner interface {
	Today() string
	State(date string) planner.DayState
	Collect(ctx context.Context, date string) race.ScheduleResult
}

// Jobs lists the scheduler's job table.
type Jobs interface {
	Jobs() []scheduler.JobInfo
	Pending() int
}

// Deps are the collaborators behind the handlers. Cache may be nil.
type Deps struct {
	Collector Collector
	Quota     race.QuotaGuard
	Store     race.Store
	Index     *schedule.Index
	Planner   Planner
	Jobs      Jobs
	Cache     EntryCache
	Clock     race.Clock
}

// Options tune the server and describe the running backends for status output.
type Options struct {
	Version        string
	StoreBackend   string
	ArchiveBackend string
	PublishBackend string
	Delay          time.Duration
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Ready is consulted by /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the collector, the schedule and the scheduler.
type Server struct {
	router    chi.Router
	collector Collector
	quota     race.QuotaGuard
	store     race.Store
	index     *schedule.Index
	planner   Planner
	jobs      Jobs
	cache     EntryCache
	clock     race.Clock
	opts      Options
	validate  *validator.Validate
	startedAt time.Time
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Minute
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		collector: deps.Collector,
		quota:     deps.Quota,
		store:     deps.Store,
		index:     deps.Index,
		planner:   deps.Planner,
		jobs:      deps.Jobs,
		cache:     deps.Cache,
		clock:     deps.Clock,
		opts:      opts,
		validate:  newValidator(),
		startedAt: deps.Clock.Now(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(corsOptions(opts.CORSOrigins)))
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/daily-schedule", s.dailySchedule)
		r.Get("/venue-schedule/{venue_code}", s.venueSchedule)
		r.Get("/race-entries/{venue_code}/{race_number}", s.raceEntries)
		r.Get("/races/today", s.todayRaces)
		r.Get("/venues", s.venues)
		r.Get("/scraping-status", s.scrapingStatus)
		r.Get("/system-status", s.systemStatus)
		r.Get("/jobs", s.listJobs)
		r.Post("/emergency/cache-only", s.toggleCacheOnly)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}, s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}
