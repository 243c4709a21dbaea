// Package retry decides when a failed fetch is retried and how long to wait.
package retry

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Policy decides whether a fetch error is retried.
type Policy interface {
	// ShouldRetry is called with the number of retries already issued.
	ShouldRetry(err error, retries int) bool
	// Backoff returns the wait before retry number retries+1.
	Backoff(retries int) time.Duration
}

// Config tunes the exponential policy.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter spreads each wait over [delay/2, delay).
	Jitter bool
}

// DefaultConfig mirrors the site-facing defaults: three retries starting at one second.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Jitter:     true,
	}
}

// ExponentialPolicy retries transient 5xx responses with doubling backoff.
type ExponentialPolicy struct {
	cfg Config
}

// NewExponential builds an ExponentialPolicy.
func NewExponential(cfg Config) *ExponentialPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		cfg.BaseDelay = cfg.MaxDelay
	}
	return &ExponentialPolicy{cfg: cfg}
}

// Retryable reports whether status is one of the transient server errors.
func Retryable(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ShouldRetry retries only 500/502/503/504 and only within budget.
func (p *ExponentialPolicy) ShouldRetry(err error, retries int) bool {
	if err == nil || retries >= p.cfg.MaxRetries {
		return false
	}
	var fe *race.FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == race.FetchHTTPError && Retryable(fe.StatusCode)
}

// Backoff returns base*2^retries capped at MaxDelay.
func (p *ExponentialPolicy) Backoff(retries int) time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(retries))
	if p.cfg.MaxDelay > 0 && delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	if !p.cfg.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
