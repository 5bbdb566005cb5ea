package feedback

import (
	"sync"
	"time"
)

// driftEntry is the per-item rolling drift state. Single writer (the
// stream poller); snapshots are handed out by value.
type driftEntry struct {
	window      []float64 // recent MAPE%, oldest first, bounded
	lastTrigger time.Time
	driftCount  int
}

// DriftCache holds rolling MAPE windows per item. Derived state only:
// rebuilt from persisted feedback after restart.
type DriftCache struct {
	mu         sync.RWMutex
	entries    map[string]*driftEntry
	windowSize int
}

// NewDriftCache creates a cache with the given per-item window bound.
func NewDriftCache(windowSize int) *DriftCache {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &DriftCache{
		entries:    make(map[string]*driftEntry),
		windowSize: windowSize,
	}
}

// Observe appends a MAPE% sample to the item's window, evicting the
// oldest sample beyond the bound.
func (c *DriftCache) Observe(itemCode string, mapePct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[itemCode]
	if e == nil {
		e = &driftEntry{}
		c.entries[itemCode] = e
	}
	e.window = append(e.window, mapePct)
	if len(e.window) > c.windowSize {
		e.window = e.window[len(e.window)-c.windowSize:]
	}
}

// Seed replaces the item's window wholesale (restart reconstruction).
func (c *DriftCache) Seed(itemCode string, mapes []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(mapes) > c.windowSize {
		mapes = mapes[len(mapes)-c.windowSize:]
	}
	c.entries[itemCode] = &driftEntry{window: append([]float64(nil), mapes...)}
}

// Has reports whether the item already has a window.
func (c *DriftCache) Has(itemCode string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[itemCode]
	return ok
}

// ShouldTrigger reports whether the item's window breaches the drift
// threshold with enough samples, and whether the cool-down has elapsed.
// When both hold, the trigger time is recorded and the drift count bumped.
func (c *DriftCache) ShouldTrigger(itemCode string, minSamples int, thresholdPct float64, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[itemCode]
	if e == nil || len(e.window) < minSamples {
		return false
	}

	var sum float64
	for _, m := range e.window {
		sum += m
	}
	mean := sum / float64(len(e.window))
	if mean <= thresholdPct {
		return false
	}

	if !e.lastTrigger.IsZero() && now.Sub(e.lastTrigger) <= cooldown {
		return false
	}

	e.lastTrigger = now
	e.driftCount++
	return true
}

// ItemStats is a point-in-time view of one item's drift state.
type ItemStats struct {
	Samples     int       `json:"samples"`
	MeanMAPE    float64   `json:"mean_mape"`
	DriftCount  int       `json:"drift_count"`
	LastTrigger time.Time `json:"last_trigger"`
}

// Snapshot returns per-item stats. Weak consistency is fine; readers are
// diagnostics only.
func (c *DriftCache) Snapshot() map[string]ItemStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ItemStats, len(c.entries))
	for code, e := range c.entries {
		var sum float64
		for _, m := range e.window {
			sum += m
		}
		mean := 0.0
		if len(e.window) > 0 {
			mean = sum / float64(len(e.window))
		}
		out[code] = ItemStats{
			Samples:     len(e.window),
			MeanMAPE:    mean,
			DriftCount:  e.driftCount,
			LastTrigger: e.lastTrigger,
		}
	}
	return out
}

// Clear drops all windows and counters.
func (c *DriftCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*driftEntry)
}
