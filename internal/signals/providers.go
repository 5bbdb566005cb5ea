package signals

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

// PopulationBaseline is the census the population factor normalizes to.
const PopulationBaseline = 150.0

// MenuBoost is the multiplier applied when an item appears on a scheduled
// recipe within the horizon.
const MenuBoost = 1.5

// Bundle is the full signal set for one item at one forecast date. All
// factors are non-negative scalars; the engine accepts any values here.
type Bundle struct {
	History     []domain.UsagePoint
	PopFactor   float64
	MenuFactor  float64
	ParLevel    float64
	Seasonality float64
}

// Provider fetches the per-item signal bundle. Every component tolerates
// an empty result set and falls back to its documented default rather
// than failing the run.
type Provider struct {
	repo        persistence.SignalRepo
	historyDays int
}

// NewProvider creates a signal provider reading historyDays of actuals.
func NewProvider(repo persistence.SignalRepo, historyDays int) *Provider {
	if historyDays <= 0 {
		historyDays = 30
	}
	return &Provider{repo: repo, historyDays: historyDays}
}

// Fetch assembles the signal bundle for an item. Only infrastructure
// errors propagate; empty data yields defaults.
func (p *Provider) Fetch(ctx context.Context, item domain.Item, date time.Time, horizonDays int) (*Bundle, error) {
	history, err := p.repo.UsageHistory(ctx, item.Code, p.historyDays)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage history: %w", err)
	}

	popFactor, err := p.populationFactor(ctx, date)
	if err != nil {
		return nil, err
	}

	menuFactor, err := p.menuFactor(ctx, item.Code, date, horizonDays)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		History:     history,
		PopFactor:   popFactor,
		MenuFactor:  menuFactor,
		ParLevel:    item.ParLevel,
		Seasonality: p.seasonalityFactor(date),
	}, nil
}

// populationFactor is total_population / baseline, defaulting to 1.0 when
// no census row exists.
func (p *Provider) populationFactor(ctx context.Context, date time.Time) (float64, error) {
	total, err := p.repo.Population(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch population: %w", err)
	}
	if total <= 0 {
		return 1.0, nil
	}
	return total / PopulationBaseline, nil
}

// menuFactor is MenuBoost when the item appears in any scheduled recipe
// within the horizon, else 1.0.
func (p *Provider) menuFactor(ctx context.Context, itemCode string, date time.Time, horizonDays int) (float64, error) {
	count, err := p.repo.MenuOccurrences(ctx, itemCode, date, date.AddDate(0, 0, horizonDays))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch menu occurrences: %w", err)
	}
	if count > 0 {
		return MenuBoost, nil
	}
	return 1.0, nil
}

// seasonalityFactor is a 1.0 placeholder. Extension hook: replace with a
// calendar model; the engine accepts any non-negative scalar.
func (p *Provider) seasonalityFactor(_ time.Time) float64 {
	return 1.0
}
