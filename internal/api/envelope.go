package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

type scrapingStatus struct {
	CountToday    int  `json:"count_today"`
	Limit         int  `json:"limit"`
	CacheOnlyMode bool `json:"cache_only_mode"`
	Remaining     int  `json:"remaining"`
}

type envelope struct {
	Timestamp      time.Time      `json:"timestamp"`
	StatusCode     int            `json:"status_code"`
	Success        bool           `json:"success"`
	Data           any            `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	Message        string         `json:"message,omitempty"`
	ScrapingStatus scrapingStatus `json:"scraping_status"`
}

func toScrapingStatus(q race.QuotaState) scrapingStatus {
	return scrapingStatus{
		CountToday:    q.Count,
		Limit:         q.Limit,
		CacheOnlyMode: q.CacheOnly,
		Remaining:     q.Remaining(),
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{
		Timestamp:      s.clock.Now(),
		StatusCode:     status,
		Success:        true,
		Data:           data,
		Message:        message,
		ScrapingStatus: toScrapingStatus(s.quota.Snapshot()),
	}, s.logger)
}

func (s *Server) respondError(w http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(w, status, envelope{
		Timestamp:      s.clock.Now(),
		StatusCode:     status,
		Error:          errMsg,
		Message:        message,
		ScrapingStatus: toScrapingStatus(s.quota.Snapshot()),
	}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
