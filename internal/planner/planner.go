// Package planner drives the daily collection and turns the day's schedule
// into one pre-race refresh job per race.
//
// Each day moves NoSchedule -> ScheduleLoaded -> JobsDerived. Job ids are
// deterministic, so deriving twice never registers a race twice, and a
// refresh for an id that already ran is skipped whichever path asks for it.
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
	"github.com/JakeFAU/boatrace-crawler/internal/schedule"
	"github.com/JakeFAU/boatrace-crawler/internal/scheduler"
)

// DayState tracks how far a day has progressed.
type DayState string

const (
	// NoSchedule means nothing is loaded for the day.
	NoSchedule DayState = "no_schedule"
	// ScheduleLoaded means the index holds the day but no jobs are derived.
	ScheduleLoaded DayState = "schedule_loaded"
	// JobsDerived means pre-race jobs were registered from the loaded day.
	JobsDerived DayState = "jobs_derived"
)

// Recurring job ids.
const (
	DailyCollectionJobID = "daily_collection"
	HourlySweepJobID     = "hourly_sweep"
)

// Collector is the part of the collector the planner drives.
type Collector interface {
	FetchDailySchedule(ctx context.Context, date string) race.ScheduleResult
}

// Jobs is the part of the scheduler the planner drives.
type Jobs interface {
	Schedule(job scheduler.Job) (bool, error)
	CancelWhere(pred func(scheduler.Job) bool) int
	Has(id string) bool
}

// Config holds times and windows. Location is the race-day time zone.
type Config struct {
	Location       *time.Location
	DailyHour      int
	DailyMinute    int
	SweepInterval  time.Duration
	LeadTime       time.Duration
	SweepWindowMin time.Duration
	SweepWindowMax time.Duration
	SweepRefresh   bool
	Retention      time.Duration
}

// DefaultConfig is Asia/Tokyo-agnostic; callers set Location.
func DefaultConfig() Config {
	return Config{
		Location:       time.UTC,
		DailyHour:      6,
		SweepInterval:  time.Hour,
		LeadTime:       time.Hour,
		SweepWindowMin: time.Hour,
		SweepWindowMax: 2 * time.Hour,
		Retention:      48 * time.Hour,
	}
}

// Planner owns the day states and the refresh guard.
type Planner struct {
	collector Collector
	store     race.Store
	index     *schedule.Index
	jobs      Jobs
	refresher Refresher
	clock     race.Clock
	cfg       Config
	logger    *zap.Logger

	mu        sync.Mutex
	states    map[string]DayState
	refreshed map[string]time.Time
}

// New constructs a Planner.
func New(
	collector Collector,
	store race.Store,
	index *schedule.Index,
	jobs Jobs,
	refresher Refresher,
	clock race.Clock,
	cfg Config,
	logger *zap.Logger,
) *Planner {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = def.LeadTime
	}
	if cfg.SweepWindowMin <= 0 && cfg.SweepWindowMax <= 0 {
		cfg.SweepWindowMin, cfg.SweepWindowMax = def.SweepWindowMin, def.SweepWindowMax
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		collector: collector,
		store:     store,
		index:     index,
		jobs:      jobs,
		refresher: refresher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		states:    make(map[string]DayState),
		refreshed: make(map[string]time.Time),
	}
}

// Register adds the daily collection and hourly sweep recurring jobs.
func (p *Planner) Register() error {
	jobs := []scheduler.Job{
		{
			ID:         DailyCollectionJobID,
			Kind:       scheduler.KindRecurring,
			Recurrence: scheduler.DailyAt{Hour: p.cfg.DailyHour, Minute: p.cfg.DailyMinute},
			Run:        func(ctx context.Context, _ scheduler.Job) error { return p.CollectDaily(ctx) },
		},
		{
			ID:         HourlySweepJobID,
			Kind:       scheduler.KindRecurring,
			Recurrence: scheduler.Every{Interval: p.cfg.SweepInterval},
			Run:        func(ctx context.Context, _ scheduler.Job) error { return p.Sweep(ctx) },
		},
	}
	for _, job := range jobs {
		if _, err := p.jobs.Schedule(job); err != nil {
			return err
		}
	}
	return nil
}

// Today is the current race day in the configured location.
func (p *Planner) Today() string {
	return race.FormatDate(p.now())
}

func (p *Planner) now() time.Time {
	return p.clock.Now().In(p.cfg.Location)
}

// CollectDaily fetches today's schedule and, when it is non-empty, loads it
// and derives pre-race jobs.
func (p *Planner) CollectDaily(ctx context.Context) error {
	p.Collect(ctx, p.Today())
	return nil
}

// Collect fetches date's schedule. A non-empty result replaces the day in the
// index; for today it also derives pre-race jobs. The result is returned as
// fetched so callers can report its source.
func (p *Planner) Collect(ctx context.Context, date string) race.ScheduleResult {
	result := p.collector.FetchDailySchedule(ctx, date)
	p.logger.Info("daily collection finished",
		zap.String("date", date),
		zap.Int("races", len(result.Entries)),
		zap.String("source", string(result.Source)),
		zap.String("fallback", string(result.Fallback)))
	if len(result.Entries) == 0 {
		p.logger.Warn("no schedule collected, keeping previous state", zap.String("date", date))
		return result
	}
	p.Load(date, result.Entries)
	if date == p.Today() {
		p.DeriveJobs(date)
	}
	return result
}

// Warm loads today's schedule from the durable store without any fetch and
// derives jobs, so a restart keeps the day's pre-race jobs.
func (p *Planner) Warm(ctx context.Context) (int, error) {
	date := p.Today()
	cached, err := p.store.ReadCachedSchedule(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("warm start read %s: %w", date, err)
	}
	if len(cached) == 0 {
		p.logger.Info("warm start found no cached schedule", zap.String("date", date))
		return 0, nil
	}
	p.Load(date, cached)
	n := p.DeriveJobs(date)
	p.logger.Info("warm start loaded schedule", zap.String("date", date), zap.Int("races", len(cached)), zap.Int("jobs", n))
	return n, nil
}

// Load replaces the day's index. When jobs were already derived for date,
// the still pending pre-race jobs are cancelled so DeriveJobs can rebuild them.
func (p *Planner) Load(date string, entries []race.RaceScheduleEntry) {
	p.index.Replace(date, entries)

	p.mu.Lock()
	prev := p.states[date]
	if p.index.Has(date) {
		p.states[date] = ScheduleLoaded
	} else {
		delete(p.states, date)
	}
	p.mu.Unlock()

	if prev == JobsDerived {
		n := p.jobs.CancelWhere(func(j scheduler.Job) bool {
			e, ok := j.Payload.(race.RaceScheduleEntry)
			return ok && j.Kind == scheduler.KindOneShot && e.Date == date
		})
		p.logger.Info("schedule rebuilt, pending pre-race jobs cancelled", zap.String("date", date), zap.Int("cancelled", n))
	}
}

// DeriveJobs registers one pre-race job per loaded race whose fire time is
// still ahead and returns how many new jobs were registered. Races whose
// fire time has passed are skipped.
func (p *Planner) DeriveJobs(date string) int {
	now := p.now()
	races := p.index.Races(date)
	registered, skipped := 0, 0
	for _, e := range races {
		start, err := e.StartAt(p.cfg.Location)
		if err != nil {
			p.logger.Warn("unparseable race time", zap.String("race_id", e.RaceID()), zap.Error(err))
			skipped++
			continue
		}
		fireAt := start.Add(-p.cfg.LeadTime)
		if !fireAt.After(now) {
			skipped++
			continue
		}
		ok, err := p.jobs.Schedule(scheduler.Job{
			ID:      race.PreRaceJobID(e.VenueCode, e.RaceNumber, e.Date),
			Kind:    scheduler.KindOneShot,
			FireAt:  fireAt,
			Payload: e,
			Run:     p.runPreRace,
		})
		if err != nil {
			p.logger.Error("register pre-race job failed", zap.String("race_id", e.RaceID()), zap.Error(err))
			continue
		}
		if ok {
			registered++
		}
	}

	p.mu.Lock()
	if len(races) > 0 {
		p.states[date] = JobsDerived
	}
	p.mu.Unlock()

	p.logger.Info("pre-race jobs derived",
		zap.String("date", date),
		zap.Int("races", len(races)),
		zap.Int("registered", registered),
		zap.Int("skipped", skipped))
	return registered
}

func (p *Planner) runPreRace(ctx context.Context, job scheduler.Job) error {
	e, ok := job.Payload.(race.RaceScheduleEntry)
	if !ok {
		return nil
	}
	_, err := p.RefreshRace(ctx, e, race.TriggerOneShot)
	return err
}

// RefreshRace requests a pre-race refresh unless one already ran for the
// race's job id. It reports whether a request was made. A failed request
// releases the id so a later sweep can retry.
func (p *Planner) RefreshRace(ctx context.Context, e race.RaceScheduleEntry, trigger race.RefreshTrigger) (bool, error) {
	id := race.PreRaceJobID(e.VenueCode, e.RaceNumber, e.Date)
	now := p.now()

	p.mu.Lock()
	if _, done := p.refreshed[id]; done {
		p.mu.Unlock()
		p.logger.Info("refresh already done", zap.String("job_id", id), zap.String("trigger", string(trigger)))
		return false, nil
	}
	p.refreshed[id] = now
	p.mu.Unlock()

	err := p.refresher.Refresh(ctx, race.RefreshRequest{
		JobID:         id,
		RaceID:        e.RaceID(),
		VenueCode:     e.VenueCode,
		VenueName:     e.VenueName,
		RaceNumber:    e.RaceNumber,
		Date:          e.Date,
		ScheduledTime: e.ScheduledTime,
		Trigger:       trigger,
		RequestedAt:   now,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.refreshed, id)
		p.mu.Unlock()
		return false, err
	}
	return true, nil
}

// Refreshed reports whether a refresh ran for the job id.
func (p *Planner) Refreshed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.refreshed[id]
	return ok
}

// Candidates returns today's races starting within the sweep window of now.
func (p *Planner) Candidates() []race.RaceScheduleEntry {
	now := p.now()
	var out []race.RaceScheduleEntry
	for _, e := range p.index.Races(race.FormatDate(now)) {
		start, err := e.StartAt(p.cfg.Location)
		if err != nil {
			continue
		}
		until := start.Sub(now)
		if until >= p.cfg.SweepWindowMin && until <= p.cfg.SweepWindowMax {
			out = append(out, e)
		}
	}
	return out
}

// Sweep flags races inside the sweep window. With SweepRefresh on, races
// with no pending pre-race job get the guarded refresh. It also prunes days
// and refresh marks older than the retention window.
func (p *Planner) Sweep(ctx context.Context) error {
	candidates := p.Candidates()
	metrics.ObserveRefreshCandidates(len(candidates))
	refreshed := 0
	var firstErr error
	for _, e := range candidates {
		id := race.PreRaceJobID(e.VenueCode, e.RaceNumber, e.Date)
		pending := p.jobs.Has(id)
		p.logger.Info("refresh candidate",
			zap.String("race_id", e.RaceID()),
			zap.String("scheduled_time", e.ScheduledTime),
			zap.Bool("job_pending", pending))
		if !p.cfg.SweepRefresh || pending {
			continue
		}
		ok, err := p.RefreshRace(ctx, e, race.TriggerSweep)
		if err != nil {
			p.logger.Error("sweep refresh failed", zap.String("race_id", e.RaceID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			refreshed++
		}
	}
	p.prune()
	p.logger.Info("sweep finished", zap.Int("candidates", len(candidates)), zap.Int("refreshed", refreshed))
	return firstErr
}

func (p *Planner) prune() {
	now := p.now()
	keepFrom := race.FormatDate(now.Add(-p.cfg.Retention))
	p.index.Prune(keepFrom)

	p.mu.Lock()
	defer p.mu.Unlock()
	for d := range p.states {
		if d < keepFrom {
			delete(p.states, d)
		}
	}
	for id, at := range p.refreshed {
		if now.Sub(at) > p.cfg.Retention {
			delete(p.refreshed, id)
		}
	}
}

// State returns the day's state.
func (p *Planner) State(date string) DayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[date]; ok {
		return s
	}
	return NoSchedule
}

// Index exposes the in-memory schedule for readers.
func (p *Planner) Index() *schedule.Index {
	return p.index
}
