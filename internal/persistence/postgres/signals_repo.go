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

type signalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalRepo creates a PostgreSQL signal-input repository.
func NewSignalRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalRepo {
	return &signalRepo{db: db, timeout: timeout}
}

func (r *signalRepo) UsageHistory(ctx context.Context, itemCode string, days int) ([]domain.UsagePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT date, qty
		FROM usage_actuals
		WHERE item_code = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date ASC`

	var points []domain.UsagePoint
	if err := r.db.SelectContext(ctx, &points, query, itemCode, days); err != nil {
		return nil, fmt.Errorf("failed to query usage history for %s: %w", itemCode, err)
	}
	return points, nil
}

func (r *signalRepo) Population(ctx context.Context, date time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT total_population
		FROM population_counts
		WHERE date <= $1
		ORDER BY date DESC
		LIMIT 1`

	var total float64
	if err := r.db.GetContext(ctx, &total, query, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query population: %w", err)
	}
	return total, nil
}

func (r *signalRepo) MenuOccurrences(ctx context.Context, itemCode string, from, to time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM menu_schedule ms
		JOIN recipe_ingredients ri ON ri.recipe_id = ms.recipe_id
		WHERE ri.item_code = $1 AND ms.scheduled_for BETWEEN $2 AND $3`

	var count int
	if err := r.db.GetContext(ctx, &count, query, itemCode, from, to); err != nil {
		return 0, fmt.Errorf("failed to count menu occurrences for %s: %w", itemCode, err)
	}
	return count, nil
}
