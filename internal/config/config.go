// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/boatrace-crawler/internal/logging"
)

// Backend names accepted by the selectable components.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
	BackendRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scraping  ScrapingConfig  `mapstructure:"scraping"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// ScrapingConfig governs the quota, the fetcher and the estimated schedule.
type ScrapingConfig struct {
	MaxPerDay        int            `mapstructure:"max_per_day"`
	DelaySeconds     float64        `mapstructure:"delay_seconds"`
	CacheOnly        bool           `mapstructure:"cache_only"`
	BaseURL          string         `mapstructure:"base_url"`
	UserAgent        string         `mapstructure:"user_agent"`
	Referer          string         `mapstructure:"referer"`
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"`
	MaxRetries       int            `mapstructure:"max_retries"`
	BackoffInitialMs int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms"`
	Estimate         EstimateConfig `mapstructure:"estimate"`
}

// EstimateConfig shapes the synthesized schedule.
type EstimateConfig struct {
	StartHour       int `mapstructure:"start_hour"`
	StartMinute     int `mapstructure:"start_minute"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
	Races           int `mapstructure:"races"`
}

// SchedulerConfig controls the job runner and the planner.
type SchedulerConfig struct {
	Timezone       string        `mapstructure:"timezone"`
	DailyHour      int           `mapstructure:"daily_hour"`
	DailyMinute    int           `mapstructure:"daily_minute"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	LeadTime       time.Duration `mapstructure:"lead_time"`
	SweepWindowMin time.Duration `mapstructure:"sweep_window_min"`
	SweepWindowMax time.Duration `mapstructure:"sweep_window_max"`
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	Retention      time.Duration `mapstructure:"retention"`
	WarmStart      bool          `mapstructure:"warm_start"`
	SweepRefresh   bool          `mapstructure:"sweep_refresh"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where raw pages are written.
type ArchiveConfig struct {
	Backend string    `mapstructure:"backend"`
	Prefix  string    `mapstructure:"prefix"`
	Local   LocalDir  `mapstructure:"local"`
	GCS     GCSBucket `mapstructure:"gcs"`
}

// LocalDir is the filesystem archive root.
type LocalDir struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSBucket names the archive bucket.
type GCSBucket struct {
	Bucket string `mapstructure:"bucket"`
}

// PublisherConfig selects the refresh hand-off broker.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	NATS    NATSConfig   `mapstructure:"nats"`
}

// PubSubConfig holds the Google Cloud project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// NATSConfig holds the JetStream connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Stream        string        `mapstructure:"stream"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// CacheConfig selects the API response cache.
type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis connection and entry TTL.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// envAliases binds the bare variable names operators already use.
var envAliases = map[string]string{
	"scraping.max_per_day":        "MAX_SCRAPING_PER_DAY",
	"scraping.delay_seconds":      "SCRAPING_DELAY",
	"scraping.cache_only":         "CACHE_ONLY_MODE",
	"cache.redis.ttl_seconds":     "CACHE_TIMEOUT",
	"store.postgres.dsn":          "DATABASE_URL",
	"publisher.pubsub.project_id": "GOOGLE_CLOUD_PROJECT",
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOATRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, alias := range envAliases {
		prefixed := "BOATRACE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("scraping.max_per_day", 50)
	v.SetDefault("scraping.delay_seconds", 5.0)
	v.SetDefault("scraping.cache_only", false)
	v.SetDefault("scraping.base_url", "https://www.boatrace.jp")
	v.SetDefault("scraping.user_agent", "")
	v.SetDefault("scraping.referer", "https://www.boatrace.jp/")
	v.SetDefault("scraping.timeout_seconds", 30)
	v.SetDefault("scraping.max_retries", 3)
	v.SetDefault("scraping.backoff_initial_ms", 1000)
	v.SetDefault("scraping.backoff_max_ms", 8000)
	v.SetDefault("scraping.estimate.start_hour", 15)
	v.SetDefault("scraping.estimate.start_minute", 0)
	v.SetDefault("scraping.estimate.interval_minutes", 25)
	v.SetDefault("scraping.estimate.races", 12)

	v.SetDefault("scheduler.timezone", "Asia/Tokyo")
	v.SetDefault("scheduler.daily_hour", 6)
	v.SetDefault("scheduler.daily_minute", 0)
	v.SetDefault("scheduler.sweep_interval", "1h")
	v.SetDefault("scheduler.lead_time", "1h")
	v.SetDefault("scheduler.sweep_window_min", "1h")
	v.SetDefault("scheduler.sweep_window_max", "2h")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("scheduler.tick_interval", "1s")
	v.SetDefault("scheduler.retention", "48h")
	v.SetDefault("scheduler.warm_start", true)
	v.SetDefault("scheduler.sweep_refresh", false)

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite.path", "data/boatrace.db")
	v.SetDefault("store.sqlite.busy_timeout_ms", 5000)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")

	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local.base_dir", "data/pages")
	v.SetDefault("archive.gcs.bucket", "")

	v.SetDefault("publisher.backend", BackendMemory)
	v.SetDefault("publisher.topic", "pre-race-refresh")
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("publisher.nats.stream", "BOATRACE")
	v.SetDefault("publisher.nats.subject_prefix", "boatrace")
	v.SetDefault("publisher.nats.max_age", "48h")

	v.SetDefault("cache.backend", BackendNone)
	v.SetDefault("cache.redis.addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl_seconds", 300)
	v.SetDefault("cache.redis.key_prefix", "boatrace")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := c.Scraping.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	return c.validateBackends()
}

func (s ScrapingConfig) validate() error {
	switch {
	case s.MaxPerDay < 0:
		return fmt.Errorf("scraping.max_per_day must be >= 0")
	case s.DelaySeconds < 0:
		return fmt.Errorf("scraping.delay_seconds must be >= 0")
	case s.TimeoutSeconds <= 0:
		return fmt.Errorf("scraping.timeout_seconds must be > 0")
	case s.MaxRetries < 0:
		return fmt.Errorf("scraping.max_retries must be >= 0")
	case s.BackoffMaxMs < s.BackoffInitialMs:
		return fmt.Errorf("scraping.backoff_max_ms must be >= scraping.backoff_initial_ms")
	case s.Estimate.Races < 1 || s.Estimate.Races > 12:
		return fmt.Errorf("scraping.estimate.races must be between 1 and 12")
	case s.Estimate.IntervalMinutes <= 0:
		return fmt.Errorf("scraping.estimate.interval_minutes must be > 0")
	case s.Estimate.StartHour < 0 || s.Estimate.StartHour > 23:
		return fmt.Errorf("scraping.estimate.start_hour must be between 0 and 23")
	case s.Estimate.StartMinute < 0 || s.Estimate.StartMinute > 59:
		return fmt.Errorf("scraping.estimate.start_minute must be between 0 and 59")
	case s.estimateLastStartMinutes() > 23*60+59:
		return fmt.Errorf("scraping.estimate: last race would start after 23:59 " +
			"(start_hour:start_minute + (races-1) * interval_minutes)")
	}
	return nil
}

// estimateLastStartMinutes is the minute of day the last estimated race starts.
func (s ScrapingConfig) estimateLastStartMinutes() int {
	e := s.Estimate
	return e.StartHour*60 + e.StartMinute + (e.Races-1)*e.IntervalMinutes
}

func (s SchedulerConfig) validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q: %w", s.Timezone, err)
	}
	switch {
	case s.DailyHour < 0 || s.DailyHour > 23:
		return fmt.Errorf("scheduler.daily_hour must be between 0 and 23")
	case s.DailyMinute < 0 || s.DailyMinute > 59:
		return fmt.Errorf("scheduler.daily_minute must be between 0 and 59")
	case s.SweepInterval <= 0:
		return fmt.Errorf("scheduler.sweep_interval must be > 0")
	case s.LeadTime <= 0:
		return fmt.Errorf("scheduler.lead_time must be > 0")
	case s.SweepWindowMin < 0 || s.SweepWindowMax < s.SweepWindowMin:
		return fmt.Errorf("scheduler.sweep_window_max must be >= scheduler.sweep_window_min >= 0")
	case s.Workers <= 0:
		return fmt.Errorf("scheduler.workers must be > 0")
	case s.QueueDepth <= 0:
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	case s.TickInterval <= 0:
		return fmt.Errorf("scheduler.tick_interval must be > 0")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set when store.backend is sqlite")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend %q must be one of memory, sqlite, postgres", c.Store.Backend)
	}

	switch c.Archive.Backend {
	case BackendNone, "", BackendMemory:
	case BackendLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set when archive.backend is local")
		}
	case BackendGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend %q must be one of none, memory, local, gcs", c.Archive.Backend)
	}

	switch c.Publisher.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Publisher.PubSub.ProjectID == "" {
			return fmt.Errorf("publisher.pubsub.project_id must be set when publisher.backend is pubsub")
		}
	case BackendNATS:
		if c.Publisher.NATS.URL == "" {
			return fmt.Errorf("publisher.nats.url must be set when publisher.backend is nats")
		}
	default:
		return fmt.Errorf("publisher.backend %q must be one of memory, pubsub, nats", c.Publisher.Backend)
	}

	switch c.Cache.Backend {
	case BackendNone, "":
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set when cache.backend is redis")
		}
		if c.Cache.Redis.TTLSeconds <= 0 {
			return fmt.Errorf("cache.redis.ttl_seconds must be > 0")
		}
	default:
		return fmt.Errorf("cache.backend %q must be one of none, redis", c.Cache.Backend)
	}
	return nil
}

// Location resolves the race-day time zone. Validate has already checked it.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Delay is the post-fetch cooldown.
func (s ScrapingConfig) Delay() time.Duration {
	return time.Duration(s.DelaySeconds * float64(time.Second))
}

// Timeout is the per-request fetch timeout.
func (s ScrapingConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// EstimateInterval is the gap between estimated races.
func (s ScrapingConfig) EstimateInterval() time.Duration {
	return time.Duration(s.Estimate.IntervalMinutes) * time.Minute
}

// TTL is the redis entry lifetime.
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}
