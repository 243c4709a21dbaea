package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

const (
	recentLogLimit   = 20
	nearLimitPercent = 0.8
)

type statistics struct {
	TotalAttempts   int     `json:"total_attempts"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	SuccessRate     float64 `json:"success_rate"`
	AvgResponseMs   float64 `json:"avg_response_ms"`
	TotalDataPoints int     `json:"total_data_retrieved"`
}

func toStatistics(st race.ScrapeStats) statistics {
	out := statistics{
		TotalAttempts:   st.Total,
		Successful:      st.Successful,
		Failed:          st.Failed,
		AvgResponseMs:   math.Round(st.AvgResponseMs*1000) / 1000,
		TotalDataPoints: st.TotalRecords,
	}
	if st.Total > 0 {
		out.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return out
}

// recommendations warns operators before the quota is gone.
func recommendations(q race.QuotaState) []string {
	out := make([]string, 0, 2)
	if q.Limit > 0 && float64(q.Count) >= float64(q.Limit)*nearLimitPercent {
		out = append(out, "approaching the daily scraping limit")
	}
	if q.Limit == 0 {
		out = append(out, "daily scraping limit is zero, live fetching is disabled")
	}
	if q.CacheOnly {
		out = append(out, "cache-only mode is enabled")
	}
	return out
}

// scrapingStatus handles GET /api/scraping-status.
func (s *Server) scrapingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	today := s.planner.Today()
	q := s.quota.Snapshot()

	stats, err := s.store.ScrapeStats(ctx, today)
	if err != nil {
		s.logger.Error("scrape stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read scrape log", "")
		return
	}
	logs, err := s.store.RecentScrapeLogs(ctx, today, recentLogLimit)
	if err != nil {
		s.logger.Error("recent scrape logs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read scrape log", "")
		return
	}
	if logs == nil {
		logs = []race.ScrapeLogEntry{}
	}

	s.respond(w, http.StatusOK, map[string]any{
		"date":            today,
		"limits":          toScrapingStatus(q),
		"statistics":      toStatistics(stats),
		"recent_logs":     logs,
		"recommendations": recommendations(q),
	}, "")
}

// systemStatus handles GET /api/system-status.
func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	today := s.planner.Today()
	q := s.quota.Snapshot()
	uptime := s.clock.Now().Sub(s.startedAt).Truncate(time.Second)

	stats, err := s.store.ScrapeStats(r.Context(), today)
	if err != nil {
		s.logger.Warn("scrape stats failed", zap.Error(err))
	}
	jobs := s.jobs.Jobs()
	running := 0
	for _, j := range jobs {
		if j.Running {
			running++
		}
	}

	s.respond(w, http.StatusOK, map[string]any{
		"system_status": "running",
		"version":       s.opts.Version,
		"uptime": map[string]any{
			"seconds":   uptime.Seconds(),
			"formatted": uptime.String(),
		},
		"scraping": map[string]any{
			"daily_count":     q.Count,
			"daily_limit":     q.Limit,
			"success_rate":    toStatistics(stats).SuccessRate,
			"cache_only_mode": q.CacheOnly,
			"can_scrape":      s.quota.CanScrape(),
			"delay_seconds":   s.opts.Delay.Seconds(),
		},
		"schedule": map[string]any{
			"date":      today,
			"loaded":    s.index.Has(today),
			"day_state": s.planner.State(today),
			"dates":     s.index.Dates(),
		},
		"jobs": map[string]any{
			"registered": len(jobs),
			"running":    running,
			"queued":     s.jobs.Pending(),
		},
		"backends": map[string]any{
			"store":          s.opts.StoreBackend,
			"archive":        s.opts.ArchiveBackend,
			"publisher":      s.opts.PublishBackend,
			"response_cache": s.cache != nil,
		},
	}, "")
}

// listJobs handles GET /api/jobs.
func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.Jobs()
	s.respond(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)}, "")
}

// toggleCacheOnly handles POST /api/emergency/cache-only with {"enable": bool}.
// A missing body or field enables cache-only mode.
func (s *Server) toggleCacheOnly(w http.ResponseWriter, r *http.Request) {
	var req cacheOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	enable := true
	if req.Enable != nil {
		enable = *req.Enable
	}

	s.quota.SetCacheOnly(enable)
	message, state := "cache-only mode disabled", "enabled"
	if enable {
		message, state = "cache-only mode enabled", "stopped"
	}
	s.logger.Warn("emergency mode toggled", zap.Bool("cache_only", enable), zap.String("request_id", RequestID(r.Context())))

	s.respond(w, http.StatusOK, map[string]any{
		"cache_only_mode": enable,
		"scraping_status": state,
	}, message)
}
