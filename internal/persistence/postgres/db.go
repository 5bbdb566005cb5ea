package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"stockcast/internal/config"
	"stockcast/internal/persistence"
)

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewRepository wires all Postgres repositories over one connection pool.
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Items:           NewItemRepo(db, timeout),
		Signals:         NewSignalRepo(db, timeout),
		Prices:          NewPriceRepo(db, timeout),
		Runs:            NewRunRepo(db, timeout),
		Approvals:       NewApprovalRepo(db, timeout),
		Feedback:        NewFeedbackRepo(db, timeout),
		Weights:         NewWeightRepo(db, timeout),
		Recommendations: NewRecommendationRepo(db, timeout),
	}
}
