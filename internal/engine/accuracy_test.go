package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/domain"
)

func pct(v float64) *float64 { return &v }

func TestCalculateAccuracy(t *testing.T) {
	runs := newFakeRuns()
	runs.lines = []domain.ForecastLine{
		{ItemCode: "MILK", Category: "dairy", VariancePct: pct(5)},
		{ItemCode: "EGGS", Category: "dairy", VariancePct: pct(-8)},
		{ItemCode: "RICE", Category: "dry", VariancePct: pct(25)},
		{ItemCode: "SAGE", Category: "dry", VariancePct: pct(10)}, // boundary counts as accurate
		{ItemCode: "SALT", Category: "dry"},                       // no actual yet, excluded
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec, err := CalculateAccuracy(context.Background(), runs, from, from.AddDate(0, 0, 30))
	require.NoError(t, err)

	assert.Equal(t, 4, rec.Total)
	assert.Equal(t, 3, rec.AccurateCount)
	assert.InDelta(t, 75.0, rec.AccuracyPct, 1e-9)
	assert.InDelta(t, 12.0, rec.AvgVariancePct, 1e-9) // (5+8+25+10)/4
	assert.InDelta(t, 100.0, rec.ByCategory["dairy"], 1e-9)
	assert.InDelta(t, 50.0, rec.ByCategory["dry"], 1e-9)
}

func TestCalculateAccuracyEmptyPeriod(t *testing.T) {
	rec, err := CalculateAccuracy(context.Background(), newFakeRuns(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, rec.Total)
	assert.Zero(t, rec.AccuracyPct)
}
