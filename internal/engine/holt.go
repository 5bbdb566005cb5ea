package engine

import (
	"math"

	"stockcast/internal/domain"
)

// Smoothing constants for Holt's linear method.
const (
	alpha = 0.3
	beta  = 0.1
)

// holtForecast runs exponential smoothing with additive trend over the
// usage history and projects horizon days ahead. Empty history predicts 0.
func holtForecast(history []domain.UsagePoint, horizonDays int) float64 {
	if len(history) == 0 {
		return 0
	}

	level := history[0].Qty
	trend := 0.0

	for i := 1; i < len(history); i++ {
		prevLevel := level
		level = alpha*history[i].Qty + (1-alpha)*(prevLevel+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	return math.Max(0, level+float64(horizonDays)*trend)
}

// confidence scores how much the history supports the forecast. Base 0.5,
// boosted by sample depth and by low coefficient of variation, clamped to
// [0.1, 1.0].
func confidence(history []domain.UsagePoint) float64 {
	c := 0.5

	n := len(history)
	switch {
	case n >= 7:
		c += 0.3
	case n >= 3:
		c += 0.15
	}

	if n >= 3 {
		cv := coefficientOfVariation(history)
		switch {
		case cv < 0.3:
			c += 0.2
		case cv < 0.6:
			c += 0.1
		}
	}

	return clamp(c, 0.1, 1.0)
}

func coefficientOfVariation(history []domain.UsagePoint) float64 {
	var sum float64
	for _, p := range history {
		sum += p.Qty
	}
	mean := sum / float64(len(history))
	if mean <= 0 {
		return 1
	}

	var sqDiff float64
	for _, p := range history {
		d := p.Qty - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(history)))

	return stddev / mean
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
