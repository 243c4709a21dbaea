// Package redis caches API entry responses in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// DefaultTTL matches the five-minute response cache of the public API.
const DefaultTTL = 300 * time.Second

// Config locates the Redis server.
type Config struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// EntryCache stores EntryResult values keyed by race.
type EntryCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewClient dials Redis and verifies it with PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("cache.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps client. A zero TTL means DefaultTTL.
func New(client *redis.Client, cfg Config, logger *zap.Logger) *EntryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "boatrace"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryCache{client: client, ttl: cfg.TTL, prefix: cfg.KeyPrefix, logger: logger}
}

func (c *EntryCache) key(venueCode string, raceNumber int, date string) string {
	return fmt.Sprintf("%s:entries:%s", c.prefix, race.RaceID(date, venueCode, raceNumber))
}

// GetEntries returns the cached result. A miss is (zero, false, nil).
func (c *EntryCache) GetEntries(
	ctx context.Context,
	venueCode string,
	raceNumber int,
	date string,
) (race.EntryResult, bool, error) {
	raw, err := c.client.Get(ctx, c.key(venueCode, raceNumber, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return race.EntryResult{}, false, nil
	}
	if err != nil {
		return race.EntryResult{}, false, fmt.Errorf("get cached entries: %w", err)
	}
	var result race.EntryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("dropping malformed cached entries", zap.String("venue", venueCode), zap.Int("race", raceNumber), zap.Error(err))
		return race.EntryResult{}, false, nil
	}
	return result, true, nil
}

// SetEntries stores result for the configured TTL. Error results are not cached.
func (c *EntryCache) SetEntries(ctx context.Context, venueCode string, raceNumber int, date string, result race.EntryResult) error {
	if result.Status != race.ResultSuccess {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	if err := c.client.Set(ctx, c.key(venueCode, raceNumber, date), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached entries: %w", err)
	}
	return nil
}

// Invalidate drops the cached result for one race.
func (c *EntryCache) Invalidate(ctx context.Context, venueCode string, raceNumber int, date string) error {
	if err := c.client.Del(ctx, c.key(venueCode, raceNumber, date)).Err(); err != nil {
		return fmt.Errorf("delete cached entries: %w", err)
	}
	return nil
}
