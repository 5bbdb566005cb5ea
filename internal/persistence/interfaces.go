package persistence

import (
	"context"
	"time"

	"stockcast/internal/domain"
)

// ItemRepo reads the item master.
type ItemRepo interface {
	// ListActive returns active items in stable item-code order.
	ListActive(ctx context.Context) ([]domain.Item, error)

	// GetByCode retrieves one item; domain.ErrNotFound if missing.
	GetByCode(ctx context.Context, code string) (*domain.Item, error)
}

// SignalRepo serves the raw inputs the signal providers fetch.
type SignalRepo interface {
	// UsageHistory returns post-reconciliation daily actuals for the last
	// `days` days, ascending by date. Missing days are omitted.
	UsageHistory(ctx context.Context, itemCode string, days int) ([]domain.UsagePoint, error)

	// Population returns the total population on a date, or 0 if unknown.
	Population(ctx context.Context, date time.Time) (float64, error)

	// MenuOccurrences counts scheduled recipes containing the item in
	// [from, to].
	MenuOccurrences(ctx context.Context, itemCode string, from, to time.Time) (int, error)
}

// PriceRepo reads vendor price records.
type PriceRepo interface {
	// PreferredVendor returns the org's configured preferred vendor, or ""
	// when none is set.
	PreferredVendor(ctx context.Context, org string) (string, error)

	// ValidPrices returns all prices for a SKU valid at date, newest
	// effective_from first. Optional vendor filter when vendor != "".
	ValidPrices(ctx context.Context, org, sku, vendor string, date time.Time) ([]domain.PriceRecord, error)
}

// RunRepo persists forecast runs and their lines. Line inserts and the run
// completion update must commit so that a reader observing
// status=completed sees every line.
type RunRepo interface {
	InsertRun(ctx context.Context, run *domain.ForecastRun) error
	GetRun(ctx context.Context, runID string) (*domain.ForecastRun, error)
	InsertLine(ctx context.Context, line *domain.ForecastLine) error

	// CompleteRun atomically flips status and stores aggregates.
	CompleteRun(ctx context.Context, runID string, itemsForecasted int, avgConfidence, totalValue float64) error

	// FailRun marks the run failed with an error message.
	FailRun(ctx context.Context, runID string, msg string) error

	ListLines(ctx context.Context, runID string) ([]domain.ForecastLine, error)
	GetLine(ctx context.Context, lineID int64) (*domain.ForecastLine, error)

	// LinesWithActuals returns lines whose actual usage arrived within the
	// period, for accuracy computation.
	LinesWithActuals(ctx context.Context, from, to time.Time) ([]domain.ForecastLine, error)
}

// ApprovalRepo records terminal decisions. Insert must commit the event
// and the run's approval_status update in one transaction, and must fail
// with domain.ErrAlreadyDecided when a terminal event already exists.
type ApprovalRepo interface {
	Insert(ctx context.Context, event *domain.ApprovalEvent, newStatus domain.ApprovalStatus) error
	ListByRun(ctx context.Context, runID string) ([]domain.ApprovalEvent, error)
}

// FeedbackRepo persists human feedback entries.
type FeedbackRepo interface {
	Insert(ctx context.Context, entry *domain.FeedbackEntry) error
	MaxID(ctx context.Context) (int64, error)

	// ListAfter returns up to batch entries with id > afterID, ascending.
	ListAfter(ctx context.Context, afterID int64, batch int) ([]domain.FeedbackEntry, error)

	ListUnapplied(ctx context.Context, limit int) ([]domain.FeedbackEntry, error)
	MarkApplied(ctx context.Context, id int64, at time.Time) error

	// RecentByItem returns the newest n entries for an item, newest first.
	// Used to rebuild drift windows after restart.
	RecentByItem(ctx context.Context, itemCode string, n int) ([]domain.FeedbackEntry, error)
}

// WeightRepo persists learned per-item weight vectors.
type WeightRepo interface {
	// Get returns the item's weights; domain.ErrNotFound when the item has
	// never been adjusted (callers fall back to defaults).
	Get(ctx context.Context, itemCode string) (*domain.WeightVector, error)
	Upsert(ctx context.Context, itemCode string, w domain.WeightVector) error
}

// RecommendationRepo persists policy-engine reorder suggestions.
type RecommendationRepo interface {
	Insert(ctx context.Context, rec *domain.Recommendation) error
	ListPending(ctx context.Context, limit int) ([]domain.Recommendation, error)
}

// Repository aggregates the persistence interfaces.
type Repository struct {
	Items           ItemRepo
	Signals         SignalRepo
	Prices          PriceRepo
	Runs            RunRepo
	Approvals       ApprovalRepo
	Feedback        FeedbackRepo
	Weights         WeightRepo
	Recommendations RecommendationRepo
}

// Pinger tests connectivity for health reporting.
type Pinger interface {
	Ping(ctx context.Context) error
}
