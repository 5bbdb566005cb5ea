package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
)

type approvalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewApprovalRepo creates a PostgreSQL approval-event repository.
func NewApprovalRepo(db *sqlx.DB, timeout time.Duration) persistence.ApprovalRepo {
	return &approvalRepo{db: db, timeout: timeout}
}

// Insert commits the approval event and the run's approval_status flip in
// one transaction. The forecast_runs row is guarded so only a pending run
// can transition; the unique index on approval_events(run_id) backstops
// the single-terminal-decision invariant.
func (r *approvalRepo) Insert(ctx context.Context, event *domain.ApprovalEvent, newStatus domain.ApprovalStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snapshotJSON, err := json.Marshal(event.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal decision snapshot: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin approval transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE forecast_runs
		SET approval_status = $2, approved_by = $3, approved_at = $4
		WHERE run_id = $1 AND approval_status = $5`,
		event.RunID, newStatus, event.Approver, event.DecidedAt, domain.ApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to update run approval status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", event.RunID, domain.ErrAlreadyDecided)
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO approval_events
			(run_id, action, approver, approver_role, note, reason_code,
			 snapshot, items_affected, total_order_qty, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		event.RunID, event.Action, event.Approver, event.ApproverRole,
		event.Note, event.ReasonCode, snapshotJSON, event.ItemsAffected,
		event.TotalOrderQty, event.DecidedAt).
		Scan(&event.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("run %s: %w", event.RunID, domain.ErrAlreadyDecided)
		}
		return fmt.Errorf("failed to insert approval event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}
	return nil
}

func (r *approvalRepo) ListByRun(ctx context.Context, runID string) ([]domain.ApprovalEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, action, approver, approver_role, note, reason_code,
		       snapshot, items_affected, total_order_qty, decided_at
		FROM approval_events
		WHERE run_id = $1
		ORDER BY decided_at`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.ApprovalEvent
	for rows.Next() {
		var ev domain.ApprovalEvent
		var snapshotJSON []byte

		err := rows.Scan(&ev.ID, &ev.RunID, &ev.Action, &ev.Approver,
			&ev.ApproverRole, &ev.Note, &ev.ReasonCode, &snapshotJSON,
			&ev.ItemsAffected, &ev.TotalOrderQty, &ev.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval event: %w", err)
		}
		if len(snapshotJSON) > 0 {
			if err := json.Unmarshal(snapshotJSON, &ev.Snapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal decision snapshot: %w", err)
			}
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval events: %w", err)
	}
	return events, nil
}
