// Package retry includes tests for the fetch retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxRetries: 3, BaseDelay: time.Millisecond})
	tests := []struct {
		name    string
		err     error
		retries int
		want    bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "500", err: race.NewHTTPError("u", 500, nil), want: true},
		{name: "502", err: race.NewHTTPError("u", 502, nil), want: true},
		{name: "503 wrapped", err: fmt.Errorf("outer: %w", race.NewHTTPError("u", 503, nil)), want: true},
		{name: "504", err: race.NewHTTPError("u", 504, nil), want: true},
		{name: "501", err: race.NewHTTPError("u", 501, nil), want: false},
		{name: "404", err: race.NewHTTPError("u", 404, nil), want: false},
		{name: "429", err: race.NewHTTPError("u", 429, nil), want: false},
		{name: "timeout", err: &race.FetchError{Kind: race.FetchTimeout, Err: context.DeadlineExceeded}, want: false},
		{name: "network", err: &race.FetchError{Kind: race.FetchNetworkError}, want: false},
		{name: "untyped", err: errors.New("boom"), want: false},
		{name: "budget spent", err: race.NewHTTPError("u", 503, nil), retries: 3, want: false},
		{name: "last retry", err: race.NewHTTPError("u", 503, nil), retries: 2, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.retries))
		})
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second})
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(6))
}

// TestBackoffJitterBounds ensures jittered delays stay inside the configured window.
func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true})
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 200*time.Millisecond)
	}
}

func TestNegativeBudgetNeverRetries(t *testing.T) {
	t.Parallel()

	p := NewExponential(Config{MaxRetries: -1})
	require.False(t, p.ShouldRetry(race.NewHTTPError("u", 503, nil), 0))
}
