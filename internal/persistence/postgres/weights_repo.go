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

type weightRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWeightRepo creates a PostgreSQL per-item weight repository.
func NewWeightRepo(db *sqlx.DB, timeout time.Duration) persistence.WeightRepo {
	return &weightRepo{db: db, timeout: timeout}
}

func (r *weightRepo) Get(ctx context.Context, itemCode string) (*domain.WeightVector, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT usage_history, population, menu_rotation, par_level, seasonality
		FROM item_weights
		WHERE item_code = $1`

	var w domain.WeightVector
	if err := r.db.GetContext(ctx, &w, query, itemCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("weights for %s: %w", itemCode, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get weights for %s: %w", itemCode, err)
	}
	return &w, nil
}

func (r *weightRepo) Upsert(ctx context.Context, itemCode string, w domain.WeightVector) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO item_weights
			(item_code, usage_history, population, menu_rotation, par_level,
			 seasonality, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (item_code) DO UPDATE SET
			usage_history = EXCLUDED.usage_history,
			population = EXCLUDED.population,
			menu_rotation = EXCLUDED.menu_rotation,
			par_level = EXCLUDED.par_level,
			seasonality = EXCLUDED.seasonality,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, itemCode,
		w.UsageHistory, w.Population, w.MenuRotation, w.ParLevel, w.Seasonality)
	if err != nil {
		return fmt.Errorf("failed to upsert weights for %s: %w", itemCode, err)
	}
	return nil
}
