package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
	"stockcast/internal/pricing"
	"stockcast/internal/signals"
	"stockcast/internal/telemetry"
)

// Options controls a forecast run.
type Options struct {
	RunID        string // caller-supplied for idempotency; generated when empty
	HorizonDays  int
	Tenant       string
	Location     string
	Actor        string
	ShadowMode   bool
	ModelVersion string
	// Item defaults applied when the item master carries zeros.
	DefaultLeadTime int
	DefaultSafety   float64
}

// Result summarizes a completed run.
type Result struct {
	RunID           string  `json:"run_id"`
	ItemsForecasted int     `json:"items_forecasted"`
	AvgConfidence   float64 `json:"avg_confidence"`
	TotalValue      float64 `json:"total_predicted_value"`
	DurationMS      int64   `json:"duration_ms"`
	ShadowMode      bool    `json:"shadow_mode"`
}

// Engine fuses signals with learned weights into per-item forecasts and
// order recommendations.
type Engine struct {
	items    persistence.ItemRepo
	runs     persistence.RunRepo
	weights  persistence.WeightRepo
	provider *signals.Provider
	costs    *pricing.Resolver
	metrics  telemetry.Metrics
}

// New creates a forecasting engine.
func New(items persistence.ItemRepo, runs persistence.RunRepo, weights persistence.WeightRepo,
	provider *signals.Provider, costs *pricing.Resolver, metrics telemetry.Metrics) *Engine {
	return &Engine{
		items:    items,
		runs:     runs,
		weights:  weights,
		provider: provider,
		costs:    costs,
		metrics:  metrics,
	}
}

// Run executes one forecast cycle over the active item universe. Items
// are processed sequentially; per-item failures are logged and skipped.
// Only infrastructure errors mark the run failed.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.HorizonDays <= 0 {
		return nil, fmt.Errorf("horizon_days must be positive: %w", domain.ErrInvalidArgument)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	start := time.Now()
	forecastDate := start.Truncate(24 * time.Hour)

	run := &domain.ForecastRun{
		RunID:          opts.RunID,
		ForecastDate:   forecastDate,
		HorizonDays:    opts.HorizonDays,
		ModelVersion:   opts.ModelVersion,
		Tenant:         opts.Tenant,
		Location:       opts.Location,
		CreatedBy:      opts.Actor,
		ShadowMode:     opts.ShadowMode,
		Status:         domain.RunRunning,
		ApprovalStatus: domain.ApprovalPending,
		StartedAt:      start,
	}
	if err := e.runs.InsertRun(ctx, run); err != nil {
		return nil, err
	}

	items, err := e.items.ListActive(ctx)
	if err != nil {
		e.failRun(ctx, opts.RunID, err)
		return nil, err
	}

	var (
		forecasted    int
		confidenceSum float64
	)
	predicted := make(map[string]float64, len(items))

	for _, item := range items {
		line, err := e.forecastItem(ctx, run, item, opts)
		if err != nil {
			if isInfrastructure(err) {
				e.failRun(ctx, opts.RunID, err)
				return nil, err
			}
			log.Warn().Err(err).Str("run_id", opts.RunID).Str("item", item.Code).
				Msg("item forecast skipped")
			continue
		}

		if err := e.runs.InsertLine(ctx, line); err != nil {
			e.failRun(ctx, opts.RunID, err)
			return nil, err
		}

		forecasted++
		confidenceSum += line.Confidence
		predicted[item.Code] += line.PredictedUsage
	}

	totalValue := e.costs.WasteCost(ctx, opts.Tenant, predicted, forecastDate)
	avgConfidence := 0.0
	if forecasted > 0 {
		avgConfidence = confidenceSum / float64(forecasted)
	}

	if err := e.runs.CompleteRun(ctx, opts.RunID, forecasted, avgConfidence, totalValue); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	e.metrics.IncCounter("forecast_runs", map[string]string{"status": "completed"}, 1)
	e.metrics.ObserveHistogram("run_duration_seconds", duration.Seconds())

	log.Info().Str("run_id", opts.RunID).Int("items", forecasted).
		Float64("avg_confidence", avgConfidence).Dur("duration", duration).
		Bool("shadow", opts.ShadowMode).Msg("forecast run completed")

	return &Result{
		RunID:           opts.RunID,
		ItemsForecasted: forecasted,
		AvgConfidence:   avgConfidence,
		TotalValue:      totalValue,
		DurationMS:      duration.Milliseconds(),
		ShadowMode:      opts.ShadowMode,
	}, nil
}

// forecastItem computes one forecast line. Pure math after the signal
// fetch; no suspension points in the fusion path.
func (e *Engine) forecastItem(ctx context.Context, run *domain.ForecastRun, item domain.Item, opts Options) (*domain.ForecastLine, error) {
	bundle, err := e.provider.Fetch(ctx, item, run.ForecastDate, opts.HorizonDays)
	if err != nil {
		return nil, err
	}

	weights := e.weightsFor(ctx, item.Code)
	base := holtForecast(bundle.History, opts.HorizonDays)
	pred, contributions := fuse(base, bundle, weights)
	conf := confidence(bundle.History)

	leadTime := item.LeadTimeDays
	if leadTime <= 0 {
		leadTime = opts.DefaultLeadTime
	}
	safetyPct := item.SafetyPct
	if safetyPct <= 0 {
		safetyPct = opts.DefaultSafety
	}

	decision := orderPolicy(pred, item.CurrentStock, item.ParLevel, leadTime, safetyPct)

	return &domain.ForecastLine{
		RunID:           run.RunID,
		ItemCode:        item.Code,
		Category:        item.Category,
		Unit:            item.Unit,
		StorageLocation: item.StorageLocation,
		PredictedUsage:  pred,
		Confidence:      conf,
		Contributions:   contributions,
		Weights:         weights,
		OrderQty:        decision.OrderQty,
		OrderReason:     decision.Reason,
		ReorderPoint:    decision.ReorderPoint,
		SafetyStock:     decision.SafetyStock,
		LeadTimeDays:    leadTime,
		ParLevel:        item.ParLevel,
		CurrentStock:    item.CurrentStock,
		OrderStatus:     domain.OrderPending,
		ForecastForDate: run.ForecastDate.AddDate(0, 0, opts.HorizonDays),
	}, nil
}

// fuse blends the smoothed base with the multiplier signals. The
// par_level weight is reserved for order policy and contributes nothing
// here; the remaining weights are rescaled over their own sum so that
// all-neutral factors reproduce the base prediction exactly.
func fuse(base float64, b *signals.Bundle, w domain.WeightVector) (float64, domain.SignalContribution) {
	additive := w.UsageHistory + w.Population + w.MenuRotation + w.Seasonality
	scale := 1.0
	if additive > 0 {
		scale = 1 / additive
	}

	contributions := domain.SignalContribution{
		domain.SignalUsageHistory: scale * w.UsageHistory * base,
		domain.SignalPopulation:   scale * w.Population * b.PopFactor * base,
		domain.SignalMenuRotation: scale * w.MenuRotation * b.MenuFactor * base,
		domain.SignalSeasonality:  scale * w.Seasonality * b.Seasonality * base,
		domain.SignalParLevel:     0,
	}

	pred := contributions[domain.SignalUsageHistory] +
		contributions[domain.SignalPopulation] +
		contributions[domain.SignalMenuRotation] +
		contributions[domain.SignalSeasonality]
	if pred < 0 {
		pred = 0
	}
	return pred, contributions
}

// weightsFor loads the item's learned weights, falling back to defaults.
// A stale read is acceptable: the governor's bounded step keeps drift
// small within a run.
func (e *Engine) weightsFor(ctx context.Context, itemCode string) domain.WeightVector {
	w, err := e.weights.Get(ctx, itemCode)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("item", itemCode).Msg("weight load failed, using defaults")
		}
		return domain.DefaultWeights()
	}
	return *w
}

func (e *Engine) failRun(ctx context.Context, runID string, cause error) {
	e.metrics.IncCounter("forecast_runs", map[string]string{"status": "failed"}, 1)
	if err := e.runs.FailRun(ctx, runID, cause.Error()); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("failed to mark run failed")
	}
}

// isInfrastructure reports whether an error should fail the whole run
// rather than skip the item.
func isInfrastructure(err error) bool {
	return errors.Is(err, domain.ErrDependencyUnavailable) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
