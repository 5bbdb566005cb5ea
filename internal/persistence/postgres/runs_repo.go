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

type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a PostgreSQL forecast-run repository.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{db: db, timeout: timeout}
}

func (r *runRepo) InsertRun(ctx context.Context, run *domain.ForecastRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO forecast_runs
			(run_id, forecast_date, horizon_days, model_version, tenant, location,
			 created_by, shadow_mode, status, approval_status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.ForecastDate, run.HorizonDays, run.ModelVersion,
		run.Tenant, run.Location, run.CreatedBy, run.ShadowMode,
		run.Status, run.ApprovalStatus, run.StartedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("run %s already exists: %w", run.RunID, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("failed to insert forecast run: %w", err)
	}
	return nil
}

func (r *runRepo) GetRun(ctx context.Context, runID string) (*domain.ForecastRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, forecast_date, horizon_days, model_version, tenant, location,
		       created_by, shadow_mode, status, approval_status, approved_by,
		       approved_at, items_forecasted, avg_confidence, total_predicted_value,
		       error_message, started_at, completed_at
		FROM forecast_runs
		WHERE run_id = $1`

	var run domain.ForecastRun
	if err := r.db.GetContext(ctx, &run, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

func (r *runRepo) InsertLine(ctx context.Context, line *domain.ForecastLine) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	contribJSON, err := json.Marshal(line.Contributions)
	if err != nil {
		return fmt.Errorf("failed to marshal contributions: %w", err)
	}
	weightsJSON, err := json.Marshal(line.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	query := `
		INSERT INTO forecast_lines
			(run_id, item_code, category, unit, storage_location, predicted_usage,
			 confidence, contributions, weights, recommended_order_qty, order_reason,
			 reorder_point, safety_stock, lead_time_days, par_level, current_stock,
			 order_status, forecast_for_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		line.RunID, line.ItemCode, line.Category, line.Unit, line.StorageLocation,
		line.PredictedUsage, line.Confidence, contribJSON, weightsJSON,
		line.OrderQty, line.OrderReason, line.ReorderPoint, line.SafetyStock,
		line.LeadTimeDays, line.ParLevel, line.CurrentStock, line.OrderStatus,
		line.ForecastForDate).
		Scan(&line.ID, &line.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert forecast line for %s: %w", line.ItemCode, err)
	}
	return nil
}

func (r *runRepo) CompleteRun(ctx context.Context, runID string, itemsForecasted int, avgConfidence, totalValue float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE forecast_runs
		SET status = $2, items_forecasted = $3, avg_confidence = $4,
		    total_predicted_value = $5, completed_at = NOW()
		WHERE run_id = $1 AND status = $6`

	res, err := r.db.ExecContext(ctx, query, runID, domain.RunCompleted,
		itemsForecasted, avgConfidence, totalValue, domain.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not in running state: %w", runID, domain.ErrInvalidRunState)
	}
	return nil
}

func (r *runRepo) FailRun(ctx context.Context, runID string, msg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE forecast_runs
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE run_id = $1`

	if _, err := r.db.ExecContext(ctx, query, runID, domain.RunFailed, msg); err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", runID, err)
	}
	return nil
}

func (r *runRepo) ListLines(ctx context.Context, runID string) ([]domain.ForecastLine, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := lineColumns + `
		FROM forecast_lines
		WHERE run_id = $1
		ORDER BY item_code`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines for run %s: %w", runID, err)
	}
	defer rows.Close()

	return scanLines(rows)
}

func (r *runRepo) GetLine(ctx context.Context, lineID int64) (*domain.ForecastLine, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := lineColumns + `
		FROM forecast_lines
		WHERE id = $1`

	rows, err := r.db.QueryxContext(ctx, query, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to get line %d: %w", lineID, err)
	}
	defer rows.Close()

	lines, err := scanLines(rows)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("line %d: %w", lineID, domain.ErrNotFound)
	}
	return &lines[0], nil
}

func (r *runRepo) LinesWithActuals(ctx context.Context, from, to time.Time) ([]domain.ForecastLine, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := lineColumns + `
		FROM forecast_lines
		WHERE actual_usage IS NOT NULL AND forecast_for_date BETWEEN $1 AND $2
		ORDER BY forecast_for_date, item_code`

	rows, err := r.db.QueryxContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines with actuals: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

const lineColumns = `
		SELECT id, run_id, item_code, category, unit, storage_location,
		       predicted_usage, confidence, contributions, weights,
		       recommended_order_qty, order_reason, reorder_point, safety_stock,
		       lead_time_days, par_level, current_stock, order_status,
		       adjusted_qty, adjust_reason, forecast_for_date, actual_usage,
		       variance_qty, variance_pct, created_at`

func scanLines(rows *sqlx.Rows) ([]domain.ForecastLine, error) {
	var lines []domain.ForecastLine

	for rows.Next() {
		var line domain.ForecastLine
		var contribJSON, weightsJSON []byte

		err := rows.Scan(
			&line.ID, &line.RunID, &line.ItemCode, &line.Category, &line.Unit,
			&line.StorageLocation, &line.PredictedUsage, &line.Confidence,
			&contribJSON, &weightsJSON, &line.OrderQty, &line.OrderReason,
			&line.ReorderPoint, &line.SafetyStock, &line.LeadTimeDays,
			&line.ParLevel, &line.CurrentStock, &line.OrderStatus,
			&line.AdjustedQty, &line.AdjustReason, &line.ForecastForDate,
			&line.ActualUsage, &line.VarianceQty, &line.VariancePct,
			&line.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan forecast line: %w", err)
		}

		if len(contribJSON) > 0 {
			if err := json.Unmarshal(contribJSON, &line.Contributions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contributions: %w", err)
			}
		}
		if len(weightsJSON) > 0 {
			if err := json.Unmarshal(weightsJSON, &line.Weights); err != nil {
				return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
			}
		}

		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecast lines: %w", err)
	}
	return lines, nil
}
