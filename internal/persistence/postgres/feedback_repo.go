package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

type feedbackRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFeedbackRepo creates a PostgreSQL feedback repository.
func NewFeedbackRepo(db *sqlx.DB, timeout time.Duration) persistence.FeedbackRepo {
	return &feedbackRepo{db: db, timeout: timeout}
}

func (r *feedbackRepo) Insert(ctx context.Context, entry *domain.FeedbackEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var proposedJSON []byte
	if entry.Proposed != nil {
		var err error
		proposedJSON, err = json.Marshal(entry.Proposed)
		if err != nil {
			return fmt.Errorf("failed to marshal proposed weights: %w", err)
		}
	}

	// Unique index on (forecast_line_id, feedback_type) enforces at most
	// one entry per line and type.
	query := `
		INSERT INTO feedback_entries
			(forecast_line_id, item_code, feedback_type, original_prediction,
			 adjustment, reason, delta, delta_pct, mape, proposed_weights,
			 submitted_by, submitted_at, applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		RETURNING id`

	err := r.db.QueryRowxContext(ctx, query,
		entry.LineID, entry.ItemCode, entry.Type, entry.OriginalPred,
		entry.Adjustment, entry.Reason, entry.Delta, entry.DeltaPct,
		entry.MAPE, proposedJSON, entry.SubmittedBy, entry.SubmittedAt).
		Scan(&entry.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("feedback for line %d type %s already exists: %w",
				entry.LineID, entry.Type, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("failed to insert feedback entry: %w", err)
	}
	return nil
}

func (r *feedbackRepo) MaxID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var maxID sql.NullInt64
	if err := r.db.GetContext(ctx, &maxID, `SELECT MAX(id) FROM feedback_entries`); err != nil {
		return 0, fmt.Errorf("failed to query max feedback id: %w", err)
	}
	return maxID.Int64, nil
}

func (r *feedbackRepo) ListAfter(ctx context.Context, afterID int64, batch int) ([]domain.FeedbackEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := feedbackColumns + `
		FROM feedback_entries
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, afterID, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback after %d: %w", afterID, err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

func (r *feedbackRepo) ListUnapplied(ctx context.Context, limit int) ([]domain.FeedbackEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := feedbackColumns + `
		FROM feedback_entries
		WHERE applied = FALSE
		ORDER BY id ASC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unapplied feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

func (r *feedbackRepo) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE feedback_entries
		SET applied = TRUE, applied_at = $2
		WHERE id = $1 AND applied = FALSE`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark feedback %d applied: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feedback %d missing or already applied: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *feedbackRepo) RecentByItem(ctx context.Context, itemCode string, n int) ([]domain.FeedbackEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := feedbackColumns + `
		FROM feedback_entries
		WHERE item_code = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, itemCode, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent feedback for %s: %w", itemCode, err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

const feedbackColumns = `
		SELECT id, forecast_line_id, item_code, feedback_type,
		       original_prediction, adjustment, reason, delta, delta_pct, mape,
		       proposed_weights, submitted_by, submitted_at, applied, applied_at`

func scanFeedback(rows *sqlx.Rows) ([]domain.FeedbackEntry, error) {
	var entries []domain.FeedbackEntry

	for rows.Next() {
		var e domain.FeedbackEntry
		var proposedJSON []byte

		err := rows.Scan(&e.ID, &e.LineID, &e.ItemCode, &e.Type,
			&e.OriginalPred, &e.Adjustment, &e.Reason, &e.Delta, &e.DeltaPct,
			&e.MAPE, &proposedJSON, &e.SubmittedBy, &e.SubmittedAt,
			&e.Applied, &e.AppliedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback entry: %w", err)
		}
		if len(proposedJSON) > 0 {
			var w domain.WeightVector
			if err := json.Unmarshal(proposedJSON, &w); err != nil {
				return nil, fmt.Errorf("failed to unmarshal proposed weights: %w", err)
			}
			e.Proposed = &w
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback entries: %w", err)
	}
	return entries, nil
}
