package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

type recommendationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRecommendationRepo creates a PostgreSQL recommendation repository.
func NewRecommendationRepo(db *sqlx.DB, timeout time.Duration) persistence.RecommendationRepo {
	return &recommendationRepo{db: db, timeout: timeout}
}

func (r *recommendationRepo) Insert(ctx context.Context, rec *domain.Recommendation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO recommendations
			(item_code, class, order_qty, reorder_point, safety_stock, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		rec.ItemCode, rec.Class, rec.OrderQty, rec.ReorderPoint,
		rec.SafetyStock, rec.Reason, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation for %s: %w", rec.ItemCode, err)
	}
	return nil
}

func (r *recommendationRepo) ListPending(ctx context.Context, limit int) ([]domain.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, item_code, class, order_qty, reorder_point, safety_stock,
		       reason, status, created_at
		FROM recommendations
		WHERE status = 'pending'
		ORDER BY class, item_code
		LIMIT $1`

	var recs []domain.Recommendation
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending recommendations: %w", err)
	}
	return recs, nil
}
