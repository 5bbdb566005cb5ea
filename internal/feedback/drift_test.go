package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDriftTriggerAndCooldown(t *testing.T) {
	cache := NewDriftCache(20)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	const thresholdPct = 15.0

	// Nine samples at 20% MAPE: below the sample floor, no trigger.
	for i := 0; i < 9; i++ {
		cache.Observe("X", 20)
		assert.False(t, cache.ShouldTrigger("X", 10, thresholdPct, time.Hour, now))
	}

	// Tenth sample crosses the floor with mean 20% > 15%.
	cache.Observe("X", 20)
	assert.True(t, cache.ShouldTrigger("X", 10, thresholdPct, time.Hour, now))

	// Thirty minutes later: still in cool-down.
	cache.Observe("X", 20)
	assert.False(t, cache.ShouldTrigger("X", 10, thresholdPct, time.Hour, now.Add(30*time.Minute)))

	// Sixty-one minutes later: cool-down elapsed, trigger again.
	cache.Observe("X", 20)
	assert.True(t, cache.ShouldTrigger("X", 10, thresholdPct, time.Hour, now.Add(61*time.Minute)))

	stats := cache.Snapshot()["X"]
	assert.Equal(t, 2, stats.DriftCount)
}

func TestDriftBelowThresholdNeverTriggers(t *testing.T) {
	cache := NewDriftCache(20)
	for i := 0; i < 15; i++ {
		cache.Observe("X", 10) // mean 10% < 15%
	}
	assert.False(t, cache.ShouldTrigger("X", 10, 15, time.Hour, time.Now()))
}

func TestDriftWindowEvictsOldest(t *testing.T) {
	cache := NewDriftCache(5)
	// Five high samples, then five low ones push them out.
	for i := 0; i < 5; i++ {
		cache.Observe("X", 100)
	}
	for i := 0; i < 5; i++ {
		cache.Observe("X", 1)
	}

	stats := cache.Snapshot()["X"]
	assert.Equal(t, 5, stats.Samples)
	assert.InDelta(t, 1.0, stats.MeanMAPE, 1e-9)
}

func TestDriftSeed(t *testing.T) {
	cache := NewDriftCache(3)
	assert.False(t, cache.Has("X"))

	cache.Seed("X", []float64{10, 20, 30, 40})
	assert.True(t, cache.Has("X"))

	stats := cache.Snapshot()["X"]
	assert.Equal(t, 3, stats.Samples)            // trimmed to window
	assert.InDelta(t, 30.0, stats.MeanMAPE, 1e-9) // newest three: 20,30,40
}

func TestDriftClear(t *testing.T) {
	cache := NewDriftCache(20)
	cache.Observe("X", 50)
	cache.Clear()
	assert.False(t, cache.Has("X"))
	assert.Empty(t, cache.Snapshot())
}
