// Package api hosts the HTTP server, middleware, and REST handlers consumed by
// the race browser front end. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/daily-schedule, /api/venue-schedule/{venue_code} and
//     /api/race-entries/{venue_code}/{race_number} for race data.
//   - GET /api/scraping-status, /api/system-status and /api/jobs for operators.
//   - POST /api/emergency/cache-only to stop live fetching.
//
// Every /api response is wrapped in the same envelope carrying the quota state.
package api
