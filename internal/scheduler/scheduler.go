// Package scheduler runs recurring and one-shot jobs on a tick loop with a
// bounded work queue and a worker pool, so a slow job never delays another
// job that is due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Kind distinguishes recurring jobs from one-shot jobs.
type Kind string

const (
	// KindRecurring jobs fire on their Recurrence until cancelled.
	KindRecurring Kind = "recurring"
	// KindOneShot jobs fire once at FireAt.
	KindOneShot Kind = "one_shot"
)

// Func is a job body.
type Func func(ctx context.Context, job Job) error

// Job is a registration request.
type Job struct {
	ID   string
	Kind Kind
	// FireAt is required for one-shot jobs. For recurring jobs a non-zero
	// FireAt overrides the first occurrence.
	FireAt     time.Time
	Recurrence Recurrence
	Payload    any
	Run        Func
}

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	NextFire   time.Time `json:"next_fire"`
	Recurrence string    `json:"recurrence,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Running    bool      `json:"running"`
	Runs       int       `json:"runs"`
	LastFired  time.Time `json:"last_fired,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Config tunes the runner.
type Config struct {
	Workers        int
	QueueDepth     int
	TickInterval   time.Duration
	FiredRetention time.Duration
}

// DefaultConfig returns 4 workers, depth 64, a 1s tick and 48h retention.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueDepth: 64, TickInterval: time.Second, FiredRetention: 48 * time.Hour}
}

type entry struct {
	job       Job
	next      time.Time
	running   bool
	runs      int
	lastFired time.Time
	lastErr   string
}

// Scheduler owns the job table.
type Scheduler struct {
	mu    sync.Mutex
	jobs  map[string]*entry
	fired map[string]time.Time

	queue     *queue
	clock     race.Clock
	cfg       Config
	logger    *zap.Logger
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Scheduler. Zero config fields take DefaultConfig values.
func New(clock race.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.FiredRetention <= 0 {
		cfg.FiredRetention = def.FiredRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*entry),
		fired:  make(map[string]time.Time),
		queue:  newQueue(cfg.QueueDepth),
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Schedule registers job. It returns false without error when the id is
// already registered or, for one-shot jobs, has already fired.
func (s *Scheduler) Schedule(job Job) (bool, error) {
	if err := validate(job); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return false, nil
	}
	if _, ok := s.fired[job.ID]; ok && job.Kind == KindOneShot {
		return false, nil
	}
	next := job.FireAt
	if job.Kind == KindRecurring && next.IsZero() {
		next = job.Recurrence.Next(s.clock.Now())
	}
	s.jobs[job.ID] = &entry{job: job, next: next}
	metrics.SetJobsRegistered(len(s.jobs))
	s.logger.Info("job registered",
		zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Time("fire_at", next))
	return true, nil
}

func validate(job Job) error {
	switch {
	case job.ID == "":
		return errors.New("job id is required")
	case job.Run == nil:
		return fmt.Errorf("job %s has no body", job.ID)
	case job.Kind == KindOneShot && job.FireAt.IsZero():
		return fmt.Errorf("one-shot job %s needs a fire time", job.ID)
	case job.Kind == KindRecurring && job.Recurrence == nil:
		return fmt.Errorf("recurring job %s needs a recurrence", job.ID)
	case job.Kind != KindOneShot && job.Kind != KindRecurring:
		return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
	}
	return nil
}

// Cancel removes a pending job. It reports whether one was removed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	metrics.SetJobsRegistered(len(s.jobs))
	return true
}

// CancelWhere removes every pending job matching pred and returns how many.
func (s *Scheduler) CancelWhere(pred func(Job) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.jobs {
		if pred(e.job) {
			delete(s.jobs, id)
			n++
		}
	}
	if n > 0 {
		metrics.SetJobsRegistered(len(s.jobs))
	}
	return n
}

// Has reports whether id is registered and pending.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Fired reports whether a one-shot id has fired within the retention window.
func (s *Scheduler) Fired(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[id]
	return ok
}

// Jobs lists registered jobs ordered by next fire time then id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		info := JobInfo{
			ID:        e.job.ID,
			Kind:      e.job.Kind,
			NextFire:  e.next,
			Payload:   e.job.Payload,
			Running:   e.running,
			Runs:      e.runs,
			LastFired: e.lastFired,
			LastError: e.lastErr,
		}
		if e.job.Recurrence != nil {
			info.Recurrence = e.job.Recurrence.String()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextFire.Equal(out[j].NextFire) {
			return out[i].NextFire.Before(out[j].NextFire)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tick dispatches every job due at the current time and returns how many
// were queued. One-shot jobs leave the table as they are dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	due := s.collectDue(now)
	queued := 0
	for _, d := range due {
		if err := s.queue.enqueue(ctx, d); err != nil {
			s.logger.Error("dispatch failed", zap.String("job_id", d.job.ID), zap.Error(err))
			s.finish(d.job, fmt.Errorf("not dispatched: %w", err))
			continue
		}
		queued++
	}
	return queued
}

func (s *Scheduler) collectDue(now time.Time) []dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, at := range s.fired {
		if now.Sub(at) > s.cfg.FiredRetention {
			delete(s.fired, id)
		}
	}

	var due []dispatch
	for id, e := range s.jobs {
		if e.next.After(now) || e.running {
			continue
		}
		switch e.job.Kind {
		case KindOneShot:
			delete(s.jobs, id)
			s.fired[id] = now
		case KindRecurring:
			e.running = true
			e.lastFired = now
			e.next = e.job.Recurrence.Next(now)
		}
		due = append(due, dispatch{job: e.job, firedAt: now})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].job.ID < due[j].job.ID })
	if len(due) > 0 {
		metrics.SetJobsRegistered(len(s.jobs))
	}
	return due
}

// Start launches the worker pool once. Workers stop when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := range s.cfg.Workers {
			s.wg.Add(1)
			go func(worker int) {
				defer s.wg.Done()
				s.work(ctx, worker)
			}(i)
		}
	})
}

// Run starts the workers and ticks until ctx ends, then waits for running
// jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.Start(ctx)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.queue.close()
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Wait blocks until every worker has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Pending returns the number of dispatched jobs waiting for a worker.
func (s *Scheduler) Pending() int {
	return s.queue.len()
}

func (s *Scheduler) work(ctx context.Context, worker int) {
	for {
		d, err := s.queue.dequeue(ctx)
		if err != nil {
			return
		}
		s.execute(ctx, worker, d)
	}
}

func (s *Scheduler) execute(ctx context.Context, worker int, d dispatch) {
	start := s.clock.Now()
	logger := s.logger.With(zap.String("job_id", d.job.ID), zap.Int("worker", worker))
	logger.Info("job fired", zap.Time("fired_at", d.firedAt))

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
				logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		err = d.job.Run(ctx, d.job)
	}()

	status := "success"
	if err != nil {
		status = "error"
		logger.Error("job failed", zap.Error(err), zap.Duration("elapsed", s.clock.Now().Sub(start)))
	} else {
		logger.Info("job finished", zap.Duration("elapsed", s.clock.Now().Sub(start)))
	}
	metrics.ObserveJob(string(d.job.Kind), status)
	s.finish(d.job, err)
}

func (s *Scheduler) finish(job Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[job.ID]
	if !ok {
		return
	}
	e.running = false
	e.runs++
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
}
