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

type itemRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewItemRepo creates a PostgreSQL item-master repository.
func NewItemRepo(db *sqlx.DB, timeout time.Duration) persistence.ItemRepo {
	return &itemRepo{db: db, timeout: timeout}
}

func (r *itemRepo) ListActive(ctx context.Context) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT code, name, category, unit, storage_location, par_level,
		       current_stock, lead_time_days, safety_pct, active
		FROM items
		WHERE active = TRUE
		ORDER BY code`

	var items []domain.Item
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("failed to list active items: %w", err)
	}
	return items, nil
}

func (r *itemRepo) GetByCode(ctx context.Context, code string) (*domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT code, name, category, unit, storage_location, par_level,
		       current_stock, lead_time_days, safety_pct, active
		FROM items
		WHERE code = $1`

	var item domain.Item
	if err := r.db.GetContext(ctx, &item, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", code, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get item %s: %w", code, err)
	}
	return &item, nil
}
