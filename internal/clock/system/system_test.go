// Package system includes tests for the wall clock adapter.
package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestClockUsesLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	clk := New(tokyo)
	got := clk.Now()

	require.Equal(t, tokyo, got.Location())
	require.Equal(t, tokyo, clk.Location())
	_, offset := got.Zone()
	require.Equal(t, 9*60*60, offset)
}

func TestClockMonotonic(t *testing.T) {
	t.Parallel()

	clk := New(time.UTC)
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
