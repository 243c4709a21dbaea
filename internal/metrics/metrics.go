// Package metrics exposes Prometheus collectors for the boat race crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	fetchRetriesTotal          prometheus.Counter
	fallbackTotal              *prometheus.CounterVec
	quotaUsed                  prometheus.Gauge
	quotaLimit                 prometheus.Gauge
	cacheOnly                  prometheus.Gauge
	jobsFiredTotal             *prometheus.CounterVec
	jobsRegistered             prometheus.Gauge
	refreshCandidatesTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_fetch_total",
				Help: "Live page fetches, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "boatrace_fetch_duration_seconds",
				Help:    "Wall time of successful fetches including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "boatrace_fetch_retries_total",
				Help: "Retries issued after transient 5xx responses.",
			},
		)

		fallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_fallback_total",
				Help: "Collector operations served from the cache, labeled by operation and reason.",
			},
			[]string{"operation", "reason"},
		)

		quotaUsed = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boatrace_quota_used",
				Help: "Live fetches counted against today's quota.",
			},
		)

		quotaLimit = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boatrace_quota_limit",
				Help: "Configured daily live fetch limit.",
			},
		)

		cacheOnly = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boatrace_cache_only",
				Help: "1 when cache-only mode is on.",
			},
		)

		jobsFiredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_jobs_fired_total",
				Help: "Scheduler job executions, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		jobsRegistered = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boatrace_jobs_registered",
				Help: "Jobs currently in the scheduler table.",
			},
		)

		refreshCandidatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "boatrace_refresh_candidates_total",
				Help: "Races flagged by the hourly sweep.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one live fetch.
func ObserveFetch(kind, outcome string, duration time.Duration) {
	Init()
	fetchTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "success" {
		fetchDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRetry counts one retry.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveFallback counts one cache fallback.
func ObserveFallback(operation, reason string) {
	Init()
	fallbackTotal.WithLabelValues(operation, reason).Inc()
}

// SetQuota publishes the quota guard state.
func SetQuota(used, limit int, cacheOnlyMode bool) {
	Init()
	quotaUsed.Set(float64(used))
	quotaLimit.Set(float64(limit))
	if cacheOnlyMode {
		cacheOnly.Set(1)
	} else {
		cacheOnly.Set(0)
	}
}

// ObserveJob counts one job execution.
func ObserveJob(kind, status string) {
	Init()
	jobsFiredTotal.WithLabelValues(kind, status).Inc()
}

// SetJobsRegistered publishes the scheduler table size.
func SetJobsRegistered(n int) {
	Init()
	jobsRegistered.Set(float64(n))
}

// ObserveRefreshCandidates counts races flagged by the sweep.
func ObserveRefreshCandidates(n int) {
	Init()
	refreshCandidatesTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
