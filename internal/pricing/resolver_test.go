package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/domain"
)

type fakePriceRepo struct {
	preferred string
	records   []domain.PriceRecord
}

func (f *fakePriceRepo) PreferredVendor(ctx context.Context, org string) (string, error) {
	return f.preferred, nil
}

func (f *fakePriceRepo) ValidPrices(ctx context.Context, org, sku, vendor string, date time.Time) ([]domain.PriceRecord, error) {
	var out []domain.PriceRecord
	for _, r := range f.records {
		if r.SKU != sku {
			continue
		}
		if vendor != "" && r.Vendor != vendor {
			continue
		}
		if date.Before(r.EffectiveFrom) {
			continue
		}
		if r.EffectiveTo != nil && date.After(*r.EffectiveTo) {
			continue
		}
		out = append(out, r)
	}
	// Newest effective_from first, matching the SQL ordering.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].EffectiveFrom.After(out[i].EffectiveFrom) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

var priceDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func record(sku, vendor string, price float64, from time.Time) domain.PriceRecord {
	return domain.PriceRecord{SKU: sku, Vendor: vendor, Price: price, Currency: "USD", EffectiveFrom: from}
}

func TestEffectivePricePrefersConfiguredVendor(t *testing.T) {
	r := NewResolver(&fakePriceRepo{
		preferred: "sysco",
		records: []domain.PriceRecord{
			record("MILK", "sysco", 2.50, priceDate.AddDate(0, -1, 0)),
			record("MILK", "usfoods", 2.10, priceDate.AddDate(0, 0, -1)),
		},
	})

	p, err := r.EffectivePrice(context.Background(), "org1", "MILK", priceDate)
	require.NoError(t, err)
	assert.Equal(t, "sysco", p.Vendor)
	assert.InDelta(t, 2.50, p.Price, 1e-9)
	assert.Equal(t, domain.SourcePreferredVendor, p.Source)
}

func TestEffectivePriceFallsBackToAnyVendor(t *testing.T) {
	r := NewResolver(&fakePriceRepo{
		preferred: "sysco",
		records: []domain.PriceRecord{
			record("MILK", "usfoods", 2.10, priceDate.AddDate(0, -2, 0)),
			record("MILK", "usfoods", 2.20, priceDate.AddDate(0, -1, 0)),
		},
	})

	p, err := r.EffectivePrice(context.Background(), "org1", "MILK", priceDate)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallbackVendor, p.Source)
	// Latest effective_from wins the tie.
	assert.InDelta(t, 2.20, p.Price, 1e-9)
}

func TestEffectivePriceNoneFound(t *testing.T) {
	r := NewResolver(&fakePriceRepo{})
	_, err := r.EffectivePrice(context.Background(), "org1", "MILK", priceDate)
	assert.ErrorIs(t, err, domain.ErrNoPriceFound)
}

func TestEffectivePriceRespectsValidityWindow(t *testing.T) {
	expired := priceDate.AddDate(0, 0, -10)
	rec := record("MILK", "usfoods", 2.10, priceDate.AddDate(0, -1, 0))
	rec.EffectiveTo = &expired

	r := NewResolver(&fakePriceRepo{records: []domain.PriceRecord{rec}})
	_, err := r.EffectivePrice(context.Background(), "org1", "MILK", priceDate)
	assert.ErrorIs(t, err, domain.ErrNoPriceFound)
}

func TestRecipeCost(t *testing.T) {
	r := NewResolver(&fakePriceRepo{
		records: []domain.PriceRecord{
			record("FLOUR", "usfoods", 0.50, priceDate.AddDate(0, -1, 0)),
			record("BUTTER", "usfoods", 4.00, priceDate.AddDate(0, -1, 0)),
		},
	})

	result, err := r.RecipeCost(context.Background(), "org1", domain.Recipe{
		Name: "biscuits",
		Ingredients: []domain.RecipeIngredient{
			{SKU: "FLOUR", Qty: 2},
			{SKU: "BUTTER", Qty: 0.5},
		},
		PrepLossPct: 10,
		YieldQty:    12,
	}, priceDate)
	require.NoError(t, err)

	// (2·0.50 + 0.5·4.00) · 1.10 = 3.30, per unit 0.275.
	assert.InDelta(t, 3.30, result.TotalCost, 1e-9)
	assert.InDelta(t, 0.275, result.UnitCost, 1e-9)
	require.Len(t, result.Breakdown, 2)
}

func TestRecipeCostMissingPriceContinues(t *testing.T) {
	r := NewResolver(&fakePriceRepo{
		records: []domain.PriceRecord{
			record("FLOUR", "usfoods", 0.50, priceDate.AddDate(0, -1, 0)),
		},
	})

	result, err := r.RecipeCost(context.Background(), "org1", domain.Recipe{
		Name: "biscuits",
		Ingredients: []domain.RecipeIngredient{
			{SKU: "FLOUR", Qty: 2},
			{SKU: "SAFFRON", Qty: 1},
		},
		YieldQty: 4,
	}, priceDate)
	require.NoError(t, err)

	assert.InDelta(t, 1.00, result.TotalCost, 1e-9)
	require.Len(t, result.Breakdown, 2)
	assert.Equal(t, domain.SourceMissingPrice, result.Breakdown[1].Source)
	assert.Zero(t, result.Breakdown[1].Cost)
}

func TestRecipeCostRejectsFractionalPrepLoss(t *testing.T) {
	r := NewResolver(&fakePriceRepo{})
	_, err := r.RecipeCost(context.Background(), "org1", domain.Recipe{
		Name:        "biscuits",
		PrepLossPct: 0.12, // fraction, not percent
		YieldQty:    4,
	}, priceDate)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRecipeCostRejectsBadYield(t *testing.T) {
	r := NewResolver(&fakePriceRepo{})
	_, err := r.RecipeCost(context.Background(), "org1", domain.Recipe{Name: "x"}, priceDate)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUnitCostZeroWhenUnpriced(t *testing.T) {
	r := NewResolver(&fakePriceRepo{})
	assert.Zero(t, r.UnitCost(context.Background(), "org1", "MILK", priceDate))
}

func TestWasteCostValuesQuantities(t *testing.T) {
	r := NewResolver(&fakePriceRepo{
		records: []domain.PriceRecord{
			record("MILK", "sysco", 2.50, priceDate.AddDate(0, -1, 0)),
			record("RICE", "sysco", 1.20, priceDate.AddDate(0, -1, 0)),
		},
	})

	total := r.WasteCost(context.Background(), "org1", map[string]float64{
		"MILK":   10, // 25.00
		"RICE":   5,  // 6.00
		"BUTTER": 3,  // unpriced, contributes 0
	}, priceDate)

	assert.InDelta(t, 31.0, total, 1e-9)
}
