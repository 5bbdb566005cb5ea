package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

// Resolver answers effective-price and recipe-cost queries against the
// vendor price book at a fixed date.
type Resolver struct {
	prices persistence.PriceRepo
}

// NewResolver creates a cost resolver over the price repository.
func NewResolver(prices persistence.PriceRepo) *Resolver {
	return &Resolver{prices: prices}
}

// EffectivePrice resolves the vendor price for a SKU at a date. The
// preferred vendor wins when it has a valid price; otherwise any vendor
// with a valid price is used, ties broken by latest effective_from.
// Returns domain.ErrNoPriceFound when neither yields a row.
func (r *Resolver) EffectivePrice(ctx context.Context, org, sku string, date time.Time) (*domain.EffectivePrice, error) {
	preferred, err := r.prices.PreferredVendor(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preferred vendor: %w", err)
	}

	if preferred != "" {
		rows, err := r.prices.ValidPrices(ctx, org, sku, preferred, date)
		if err != nil {
			return nil, fmt.Errorf("failed to query preferred vendor prices: %w", err)
		}
		if len(rows) > 0 {
			p := rows[0]
			return &domain.EffectivePrice{
				Price:    p.Price,
				Vendor:   p.Vendor,
				Currency: p.Currency,
				Source:   domain.SourcePreferredVendor,
			}, nil
		}
	}

	rows, err := r.prices.ValidPrices(ctx, org, sku, "", date)
	if err != nil {
		return nil, fmt.Errorf("failed to query fallback vendor prices: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sku %s at %s: %w", sku, date.Format("2006-01-02"), domain.ErrNoPriceFound)
	}

	p := rows[0]
	return &domain.EffectivePrice{
		Price:    p.Price,
		Vendor:   p.Vendor,
		Currency: p.Currency,
		Source:   domain.SourceFallbackVendor,
	}, nil
}

// RecipeCost sums ingredient costs at a fixed date. Ingredients with no
// valid price become zero-cost lines tagged missing_price and the sum
// continues. The raw sum is inflated by prep loss and divided by yield.
//
// prep_loss_pct is a percent (e.g. 12 for 12%). Values in (0, 1) almost
// always mean a caller passed a fraction; they are rejected as
// InvalidArgument rather than silently producing a near-zero loss.
func (r *Resolver) RecipeCost(ctx context.Context, org string, recipe domain.Recipe, date time.Time) (*domain.RecipeCostResult, error) {
	if recipe.YieldQty <= 0 {
		return nil, fmt.Errorf("recipe %s yield_qty must be positive: %w", recipe.Name, domain.ErrInvalidArgument)
	}
	if recipe.PrepLossPct < 0 {
		return nil, fmt.Errorf("recipe %s prep_loss_pct must be non-negative: %w", recipe.Name, domain.ErrInvalidArgument)
	}
	if recipe.PrepLossPct > 0 && recipe.PrepLossPct < 1 {
		return nil, fmt.Errorf("recipe %s prep_loss_pct %.3f looks like a fraction, expected percent: %w",
			recipe.Name, recipe.PrepLossPct, domain.ErrInvalidArgument)
	}

	result := &domain.RecipeCostResult{Recipe: recipe.Name}
	var total float64

	for _, ing := range recipe.Ingredients {
		price, err := r.EffectivePrice(ctx, org, ing.SKU, date)
		if err != nil {
			if errors.Is(err, domain.ErrNoPriceFound) {
				log.Warn().Str("recipe", recipe.Name).Str("sku", ing.SKU).
					Msg("no valid price for ingredient, costing as zero")
				result.Breakdown = append(result.Breakdown, domain.IngredientCost{
					SKU:    ing.SKU,
					Qty:    ing.Qty,
					Source: domain.SourceMissingPrice,
				})
				continue
			}
			return nil, err
		}

		cost := ing.Qty * price.Price
		total += cost
		result.Breakdown = append(result.Breakdown, domain.IngredientCost{
			SKU:    ing.SKU,
			Qty:    ing.Qty,
			Price:  price.Price,
			Cost:   cost,
			Source: price.Source,
		})
	}

	result.TotalCost = total * (1 + recipe.PrepLossPct/100)
	result.UnitCost = result.TotalCost / recipe.YieldQty
	return result, nil
}

// UnitCost resolves the effective unit price for an item, returning 0 for
// items with no price so valuation aggregates keep moving.
func (r *Resolver) UnitCost(ctx context.Context, org, sku string, date time.Time) float64 {
	price, err := r.EffectivePrice(ctx, org, sku, date)
	if err != nil {
		return 0
	}
	return price.Price
}

// WasteCost values a set of predicted quantities at their effective unit
// prices. Unpriced items contribute zero.
func (r *Resolver) WasteCost(ctx context.Context, org string, quantities map[string]float64, date time.Time) float64 {
	total := 0.0
	for sku, qty := range quantities {
		total += qty * r.UnitCost(ctx, org, sku, date)
	}
	return total
}
