// Package main hosts the boatrace collector service and its one-shot commands.
//
// Architecture overview:
//   - Collection: internal/collector fetches the venue landing page, each venue's time table and
//     per-race entry lists through the colly fetcher, parses them with goquery and persists rows to the
//     configured store (memory/sqlite/postgres). Raw pages can be archived to a local directory or GCS.
//   - Quota: internal/quota caps live fetches per day and supports an emergency cache-only switch. Every
//     blocked or failed fetch falls back to the store.
//   - Scheduling: internal/scheduler runs one-shot and recurring jobs on a small worker pool. The planner
//     registers the daily collection and the hourly sweep, derives a pre-race job per race, and publishes
//     refresh requests to Pub/Sub, NATS JetStream or an in-memory sink.
//   - HTTP API: internal/api serves schedules, entries, quota status and the job table with chi, and
//     exports Prometheus metrics on /metrics.
//
// Quick checklist:
//   - Configure with a YAML file (--config) or BOATRACE_* env vars. MAX_SCRAPING_PER_DAY, SCRAPING_DELAY,
//     CACHE_ONLY_MODE, DATABASE_URL and GOOGLE_CLOUD_PROJECT are honored as aliases.
//   - Run the service: go run ./cmd/boatrace serve --config config.yaml
//   - One-shot: go run ./cmd/boatrace collect --date 20250601, or entries 01 3 --date 20250601.
package main
