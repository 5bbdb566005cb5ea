package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

type priceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPriceRepo creates a PostgreSQL vendor-price repository.
func NewPriceRepo(db *sqlx.DB, timeout time.Duration) persistence.PriceRepo {
	return &priceRepo{db: db, timeout: timeout}
}

func (r *priceRepo) PreferredVendor(ctx context.Context, org string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT preferred_vendor
		FROM org_settings
		WHERE org = $1`

	var vendor sql.NullString
	if err := r.db.GetContext(ctx, &vendor, query, org); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query preferred vendor for %s: %w", org, err)
	}
	return vendor.String, nil
}

func (r *priceRepo) ValidPrices(ctx context.Context, org, sku, vendor string, date time.Time) ([]domain.PriceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT sku, vendor, price, currency, effective_from, effective_to
		FROM vendor_prices
		WHERE org = $1 AND sku = $2
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to >= $3)
		  AND ($4 = '' OR vendor = $4)
		ORDER BY effective_from DESC`

	var prices []domain.PriceRecord
	if err := r.db.SelectContext(ctx, &prices, query, org, sku, date, vendor); err != nil {
		return nil, fmt.Errorf("failed to query prices for %s/%s: %w", org, sku, err)
	}
	return prices, nil
}
