// Package quota implements the daily live-fetch quota guard.
//
// The counter is process local and never persisted: a restart resets it. The
// day boundary is evaluated lazily on the next call after midnight in the
// clock's location.
package quota

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/metrics"
	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Config sets the initial guard state.
type Config struct {
	Limit     int
	CacheOnly bool
}

// Guard tracks live fetches for the current day.
type Guard struct {
	mu        sync.Mutex
	clock     race.Clock
	logger    *zap.Logger
	day       string
	count     int
	limit     int
	cacheOnly bool
}

var _ race.QuotaGuard = (*Guard)(nil)

// New builds a Guard with count=0 for the clock's current day.
func New(cfg Config, clock race.Clock, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		clock:     clock,
		logger:    logger,
		day:       race.FormatDate(clock.Now()),
		limit:     cfg.Limit,
		cacheOnly: cfg.CacheOnly,
	}
	metrics.SetQuota(g.count, g.limit, g.cacheOnly)
	return g
}

// CanScrape reports whether a live fetch is permitted now.
func (g *Guard) CanScrape() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return g.allowedLocked()
}

// RecordScrape counts one permitted live fetch.
func (g *Guard) RecordScrape() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	g.count++
	metrics.SetQuota(g.count, g.limit, g.cacheOnly)
}

// Acquire is CanScrape followed by RecordScrape under one lock, so two
// concurrent callers cannot both take the last slot.
func (g *Guard) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	if !g.allowedLocked() {
		return false
	}
	g.count++
	metrics.SetQuota(g.count, g.limit, g.cacheOnly)
	return true
}

// SetCacheOnly toggles the operator override. It never touches the count.
func (g *Guard) SetCacheOnly(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cacheOnly == enabled {
		return
	}
	g.cacheOnly = enabled
	g.logger.Warn("cache-only mode changed", zap.Bool("cache_only", enabled))
	metrics.SetQuota(g.count, g.limit, g.cacheOnly)
}

// Snapshot returns the current state after applying any pending day rollover.
func (g *Guard) Snapshot() race.QuotaState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return race.QuotaState{
		Day:       g.day,
		Count:     g.count,
		Limit:     g.limit,
		CacheOnly: g.cacheOnly,
	}
}

func (g *Guard) allowedLocked() bool {
	if g.cacheOnly {
		return false
	}
	return g.count < g.limit
}

func (g *Guard) rollLocked() {
	today := race.FormatDate(g.clock.Now())
	if today == g.day {
		return
	}
	g.logger.Info("quota day rolled over",
		zap.String("previous_day", g.day),
		zap.String("day", today),
		zap.Int("previous_count", g.count),
	)
	g.day = today
	g.count = 0
	metrics.SetQuota(g.count, g.limit, g.cacheOnly)
}
