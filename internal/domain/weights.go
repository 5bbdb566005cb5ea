package domain

import (
	"fmt"
	"math"
)

// SignalKind identifies one of the fixed forecast signals.
type SignalKind string

const (
	SignalUsageHistory SignalKind = "usage_history"
	SignalPopulation   SignalKind = "population"
	SignalMenuRotation SignalKind = "menu_rotation"
	SignalParLevel     SignalKind = "par_level"
	SignalSeasonality  SignalKind = "seasonality"
)

// AllSignals lists the signal kinds in stable order.
func AllSignals() []SignalKind {
	return []SignalKind{
		SignalUsageHistory,
		SignalPopulation,
		SignalMenuRotation,
		SignalParLevel,
		SignalSeasonality,
	}
}

// WeightVector holds the learned blend weights for one item. Fixed fields
// rather than a map so the sum invariant is checkable without key games.
// The par_level weight is reserved for order policy and never contributes
// to additive fusion.
type WeightVector struct {
	UsageHistory float64 `json:"usage_history" db:"usage_history"`
	Population   float64 `json:"population" db:"population"`
	MenuRotation float64 `json:"menu_rotation" db:"menu_rotation"`
	ParLevel     float64 `json:"par_level" db:"par_level"`
	Seasonality  float64 `json:"seasonality" db:"seasonality"`
}

// DefaultWeights returns the blend used before any feedback is learned.
func DefaultWeights() WeightVector {
	return WeightVector{
		UsageHistory: 0.40,
		Population:   0.25,
		MenuRotation: 0.15,
		ParLevel:     0.10,
		Seasonality:  0.10,
	}
}

// Sum returns the total of all weights.
func (w WeightVector) Sum() float64 {
	return w.UsageHistory + w.Population + w.MenuRotation + w.ParLevel + w.Seasonality
}

// Get returns the weight for a signal kind.
func (w WeightVector) Get(kind SignalKind) float64 {
	switch kind {
	case SignalUsageHistory:
		return w.UsageHistory
	case SignalPopulation:
		return w.Population
	case SignalMenuRotation:
		return w.MenuRotation
	case SignalParLevel:
		return w.ParLevel
	case SignalSeasonality:
		return w.Seasonality
	default:
		return 0
	}
}

// Set assigns the weight for a signal kind.
func (w *WeightVector) Set(kind SignalKind, v float64) {
	switch kind {
	case SignalUsageHistory:
		w.UsageHistory = v
	case SignalPopulation:
		w.Population = v
	case SignalMenuRotation:
		w.MenuRotation = v
	case SignalParLevel:
		w.ParLevel = v
	case SignalSeasonality:
		w.Seasonality = v
	}
}

// Clamp bounds every weight into [0, 1].
func (w WeightVector) Clamp() WeightVector {
	for _, k := range AllSignals() {
		v := w.Get(k)
		if v < 0 {
			w.Set(k, 0)
		} else if v > 1 {
			w.Set(k, 1)
		}
	}
	return w
}

// Normalize rescales the vector so weights sum to 1.0. A zero vector
// falls back to defaults rather than dividing by zero.
func (w WeightVector) Normalize() WeightVector {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights()
	}
	for _, k := range AllSignals() {
		w.Set(k, w.Get(k)/sum)
	}
	return w
}

// Validate checks the normalization invariant.
func (w WeightVector) Validate() error {
	for _, k := range AllSignals() {
		v := w.Get(k)
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s out of range: %.4f", k, v)
		}
	}
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("weights sum to %.12f, expected 1.0", w.Sum())
	}
	return nil
}
