package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// StoreAudit is the default audit procedure: it reconciles the inventory
// store, repairs what it safely can, and scores overall data health.
type StoreAudit struct {
	db      *sqlx.DB
	timeout time.Duration

	mu        sync.Mutex
	lastAudit time.Time
}

// NewStoreAudit creates the store-backed audit procedure.
func NewStoreAudit(db *sqlx.DB, timeout time.Duration) *StoreAudit {
	return &StoreAudit{db: db, timeout: timeout}
}

// Run executes one reconciliation pass. Each check deducts from a score
// starting at 100; negative stock is repaired in place.
func (s *StoreAudit) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	since := s.lastAudit
	s.lastAudit = time.Now()
	s.mu.Unlock()

	report := &Report{HealthScore: 100, Status: "healthy"}

	fixed, err := s.repairNegativeStock(ctx)
	if err != nil {
		return nil, err
	}
	report.FixedMutations = fixed
	if fixed > 0 {
		report.HealthScore -= 5
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d items had negative stock, reset to zero", fixed))
	}

	unpriced, err := s.countUnpricedItems(ctx)
	if err != nil {
		return nil, err
	}
	if unpriced > 0 {
		report.HealthScore -= min(unpriced*2, 20)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d active items have no vendor price", unpriced))
	}

	stale, err := s.countStaleItems(ctx)
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		report.HealthScore -= min(stale, 15)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d active items have no usage recorded in 30 days", stale))
	}

	failedRuns, err := s.countRecentFailedRuns(ctx)
	if err != nil {
		return nil, err
	}
	if failedRuns > 0 {
		report.HealthScore -= min(failedRuns*10, 30)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d forecast runs failed in the last 24h", failedRuns))
	}

	report.StockoutRiskCount, err = s.countStockoutRisks(ctx)
	if err != nil {
		return nil, err
	}
	if report.StockoutRiskCount > 0 {
		report.HealthScore -= min(report.StockoutRiskCount*2, 20)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d items below a quarter of par level", report.StockoutRiskCount))
	}

	report.ShouldRetrain, err = s.countNewInvoices(ctx, since)
	if err != nil {
		return nil, err
	}

	if report.HealthScore < 0 {
		report.HealthScore = 0
	}
	switch {
	case report.HealthScore < 60:
		report.Status = "critical"
	case report.HealthScore < 80:
		report.Status = "degraded"
	}
	return report, nil
}

func (s *StoreAudit) repairNegativeStock(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET current_stock = 0 WHERE current_stock < 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to repair negative stock: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *StoreAudit) countUnpricedItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM items i
		WHERE i.active
		  AND NOT EXISTS (SELECT 1 FROM vendor_prices p WHERE p.sku = i.code)`)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpriced items: %w", err)
	}
	return n, nil
}

func (s *StoreAudit) countStaleItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM items i
		WHERE i.active
		  AND NOT EXISTS (
			SELECT 1 FROM usage_actuals u
			WHERE u.item_code = i.code AND u.date >= CURRENT_DATE - 30)`)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale items: %w", err)
	}
	return n, nil
}

func (s *StoreAudit) countRecentFailedRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM forecast_runs
		WHERE status = 'failed' AND started_at >= NOW() - INTERVAL '24 hours'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed runs: %w", err)
	}
	return n, nil
}

func (s *StoreAudit) countStockoutRisks(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM items
		WHERE active AND par_level > 0 AND current_stock < par_level * 0.25`)
	if err != nil {
		return 0, fmt.Errorf("failed to count stockout risks: %w", err)
	}
	return n, nil
}

// countNewInvoices counts invoices received since the previous audit; a
// first audit counts the trailing day.
func (s *StoreAudit) countNewInvoices(ctx context.Context, since time.Time) (int, error) {
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM invoices WHERE received_at > $1`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count new invoices: %w", err)
	}
	return n, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
