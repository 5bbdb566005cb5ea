package engine

import (
	"context"
	"math"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

// AccurateVariancePct is the variance bound under which a forecast counts
// as accurate.
const AccurateVariancePct = 10.0

// CalculateAccuracy evaluates forecast lines whose actuals arrived within
// the period and reports the share with variance at or below the bound,
// with a per-category breakdown.
func CalculateAccuracy(ctx context.Context, runs persistence.RunRepo, from, to time.Time) (*domain.AccuracyRecord, error) {
	lines, err := runs.LinesWithActuals(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rec := &domain.AccuracyRecord{
		From:       from,
		To:         to,
		ByCategory: make(map[string]float64),
	}

	type catStat struct{ total, accurate int }
	byCat := make(map[string]*catStat)
	var varianceSum float64

	for _, line := range lines {
		if line.VariancePct == nil {
			continue
		}
		variance := math.Abs(*line.VariancePct)

		rec.Total++
		varianceSum += variance

		cs := byCat[line.Category]
		if cs == nil {
			cs = &catStat{}
			byCat[line.Category] = cs
		}
		cs.total++

		if variance <= AccurateVariancePct {
			rec.AccurateCount++
			cs.accurate++
		}
	}

	if rec.Total > 0 {
		rec.AccuracyPct = 100 * float64(rec.AccurateCount) / float64(rec.Total)
		rec.AvgVariancePct = varianceSum / float64(rec.Total)
	}
	for cat, cs := range byCat {
		if cs.total > 0 {
			rec.ByCategory[cat] = 100 * float64(cs.accurate) / float64(cs.total)
		}
	}

	return rec, nil
}
