package domain

import (
	"time"
)

// RunStatus tracks forecast run execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ApprovalStatus tracks the dual-control decision on a run.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalAction is a terminal decision kind.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
)

// RejectReason enumerates the allowed rejection reason codes.
type RejectReason string

const (
	ReasonInaccurate RejectReason = "inaccurate"
	ReasonTooHigh    RejectReason = "too_high"
	ReasonTooLow     RejectReason = "too_low"
	ReasonOther      RejectReason = "other"
)

// ValidRejectReason reports whether code is in the enumeration.
func ValidRejectReason(code RejectReason) bool {
	switch code {
	case ReasonInaccurate, ReasonTooHigh, ReasonTooLow, ReasonOther:
		return true
	}
	return false
}

// OrderStatus tracks a forecast line's recommendation lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderApproved  OrderStatus = "approved"
	OrderAdjusted  OrderStatus = "adjusted"
	OrderRejected  OrderStatus = "rejected"
	OrderFulfilled OrderStatus = "fulfilled"
)

// FeedbackType classifies post-hoc human feedback on a forecast line.
type FeedbackType string

const (
	FeedbackAdjustment FeedbackType = "adjustment"
	FeedbackApproval   FeedbackType = "approval"
	FeedbackRejection  FeedbackType = "rejection"
)

// Item is the item-master row the engine forecasts against.
type Item struct {
	Code            string  `json:"code" db:"code"`
	Name            string  `json:"name" db:"name"`
	Category        string  `json:"category" db:"category"`
	Unit            string  `json:"unit" db:"unit"`
	StorageLocation string  `json:"storage_location" db:"storage_location"`
	ParLevel        float64 `json:"par_level" db:"par_level"`
	CurrentStock    float64 `json:"current_stock" db:"current_stock"`
	LeadTimeDays    int     `json:"lead_time_days" db:"lead_time_days"`
	SafetyPct       float64 `json:"safety_pct" db:"safety_pct"`
	Active          bool    `json:"active" db:"active"`
}

// UsagePoint is one day of post-reconciliation actual consumption.
// Missing days are omitted, never zero-padded.
type UsagePoint struct {
	Date time.Time `json:"date" db:"date"`
	Qty  float64   `json:"qty" db:"qty"`
}

// ForecastRun is one engine execution over the active item universe.
type ForecastRun struct {
	RunID             string         `json:"run_id" db:"run_id"`
	ForecastDate      time.Time      `json:"forecast_date" db:"forecast_date"`
	HorizonDays       int            `json:"horizon_days" db:"horizon_days"`
	ModelVersion      string         `json:"model_version" db:"model_version"`
	Tenant            string         `json:"tenant" db:"tenant"`
	Location          string         `json:"location" db:"location"`
	CreatedBy         string         `json:"created_by" db:"created_by"`
	ShadowMode        bool           `json:"shadow_mode" db:"shadow_mode"`
	Status            RunStatus      `json:"status" db:"status"`
	ApprovalStatus    ApprovalStatus `json:"approval_status" db:"approval_status"`
	ApprovedBy        *string        `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	ItemsForecasted   int            `json:"items_forecasted" db:"items_forecasted"`
	AvgConfidence     float64        `json:"avg_confidence" db:"avg_confidence"`
	TotalPredictedVal float64        `json:"total_predicted_value" db:"total_predicted_value"`
	ErrorMessage      *string        `json:"error_message,omitempty" db:"error_message"`
	StartedAt         time.Time      `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// SignalContribution records how much one signal added to a prediction.
type SignalContribution map[SignalKind]float64

// ForecastLine is one item's forecast within a run.
type ForecastLine struct {
	ID              int64              `json:"id" db:"id"`
	RunID           string             `json:"run_id" db:"run_id"`
	ItemCode        string             `json:"item_code" db:"item_code"`
	Category        string             `json:"category" db:"category"`
	Unit            string             `json:"unit" db:"unit"`
	StorageLocation string             `json:"storage_location" db:"storage_location"`
	PredictedUsage  float64            `json:"predicted_usage" db:"predicted_usage"`
	Confidence      float64            `json:"confidence" db:"confidence"`
	Contributions   SignalContribution `json:"contributions" db:"contributions"`
	Weights         WeightVector       `json:"weights" db:"weights"`
	OrderQty        int                `json:"recommended_order_qty" db:"recommended_order_qty"`
	OrderReason     string             `json:"order_reason" db:"order_reason"`
	ReorderPoint    float64            `json:"reorder_point" db:"reorder_point"`
	SafetyStock     float64            `json:"safety_stock" db:"safety_stock"`
	LeadTimeDays    int                `json:"lead_time_days" db:"lead_time_days"`
	ParLevel        float64            `json:"par_level" db:"par_level"`
	CurrentStock    float64            `json:"current_stock" db:"current_stock"`
	OrderStatus     OrderStatus        `json:"order_status" db:"order_status"`
	AdjustedQty     *float64           `json:"adjusted_qty,omitempty" db:"adjusted_qty"`
	AdjustReason    *string            `json:"adjust_reason,omitempty" db:"adjust_reason"`
	ForecastForDate time.Time          `json:"forecast_for_date" db:"forecast_for_date"`
	ActualUsage     *float64           `json:"actual_usage,omitempty" db:"actual_usage"`
	VarianceQty     *float64           `json:"variance_qty,omitempty" db:"variance_qty"`
	VariancePct     *float64           `json:"variance_pct,omitempty" db:"variance_pct"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// LineSnapshot is the item-level state frozen onto an ApprovalEvent at
// decision time so later line edits cannot rewrite the historical record.
type LineSnapshot struct {
	ItemCode   string  `json:"item_code"`
	OrderQty   int     `json:"order_qty"`
	Confidence float64 `json:"confidence"`
}

// ApprovalEvent is the append-only record of a terminal decision.
type ApprovalEvent struct {
	ID            int64          `json:"id" db:"id"`
	RunID         string         `json:"run_id" db:"run_id"`
	Action        ApprovalAction `json:"action" db:"action"`
	Approver      string         `json:"approver" db:"approver"`
	ApproverRole  string         `json:"approver_role" db:"approver_role"`
	Note          string         `json:"note" db:"note"`
	ReasonCode    *RejectReason  `json:"reason_code,omitempty" db:"reason_code"`
	Snapshot      []LineSnapshot `json:"snapshot" db:"snapshot"`
	ItemsAffected int            `json:"items_affected" db:"items_affected"`
	TotalOrderQty int            `json:"total_order_qty" db:"total_order_qty"`
	DecidedAt     time.Time      `json:"decided_at" db:"decided_at"`
}

// FeedbackEntry is a post-hoc human signal about one forecast line.
type FeedbackEntry struct {
	ID            int64         `json:"id" db:"id"`
	LineID        int64         `json:"forecast_line_id" db:"forecast_line_id"`
	ItemCode      string        `json:"item_code" db:"item_code"`
	Type          FeedbackType  `json:"feedback_type" db:"feedback_type"`
	OriginalPred  float64       `json:"original_prediction" db:"original_prediction"`
	Adjustment    float64       `json:"adjustment" db:"adjustment"`
	Reason        string        `json:"reason" db:"reason"`
	Delta         float64       `json:"delta" db:"delta"`
	DeltaPct      float64       `json:"delta_pct" db:"delta_pct"`
	MAPE          float64       `json:"mape" db:"mape"`
	Proposed      *WeightVector `json:"proposed_weights,omitempty" db:"proposed_weights"`
	SubmittedBy   string        `json:"submitted_by" db:"submitted_by"`
	SubmittedAt   time.Time     `json:"submitted_at" db:"submitted_at"`
	Applied       bool          `json:"applied" db:"applied"`
	AppliedAt     *time.Time    `json:"applied_at,omitempty" db:"applied_at"`
}

// PriceSource tags where an effective price came from.
type PriceSource string

const (
	SourcePreferredVendor PriceSource = "preferred_vendor"
	SourceFallbackVendor  PriceSource = "fallback_vendor"
	SourceMissingPrice    PriceSource = "missing_price"
)

// PriceRecord is a vendor price with a validity window. A nil EffectiveTo
// means open-ended.
type PriceRecord struct {
	SKU           string     `json:"sku" db:"sku"`
	Vendor        string     `json:"vendor" db:"vendor"`
	Price         float64    `json:"price" db:"price"`
	Currency      string     `json:"currency" db:"currency"`
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`
}

// EffectivePrice is the resolved price for a SKU at a date.
type EffectivePrice struct {
	Price    float64     `json:"price"`
	Vendor   string      `json:"vendor"`
	Currency string      `json:"currency"`
	Source   PriceSource `json:"source"`
}

// RecipeIngredient is one line of a recipe's bill of materials.
type RecipeIngredient struct {
	SKU string  `json:"sku"`
	Qty float64 `json:"qty"`
}

// Recipe costs out to a per-yield unit price.
type Recipe struct {
	Name        string             `json:"name"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	PrepLossPct float64            `json:"prep_loss_pct"`
	YieldQty    float64            `json:"yield_qty"`
}

// IngredientCost is one line of a recipe cost breakdown.
type IngredientCost struct {
	SKU    string      `json:"sku"`
	Qty    float64     `json:"qty"`
	Price  float64     `json:"price"`
	Cost   float64     `json:"cost"`
	Source PriceSource `json:"source"`
}

// RecipeCostResult is the fully resolved cost of a recipe at a date.
type RecipeCostResult struct {
	Recipe    string           `json:"recipe"`
	UnitCost  float64          `json:"unit_cost"`
	TotalCost float64          `json:"total_cost"`
	Breakdown []IngredientCost `json:"breakdown"`
}

// AccuracyRecord summarizes forecast accuracy over a period.
type AccuracyRecord struct {
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	Total          int                `json:"total"`
	AccurateCount  int                `json:"accurate_count"`
	AccuracyPct    float64            `json:"accuracy_pct"`
	AvgVariancePct float64            `json:"avg_variance_pct"`
	ByCategory     map[string]float64 `json:"by_category"`
}

// ABCClass partitions items by annual consumption value.
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

// Recommendation is a policy-engine reorder suggestion.
type Recommendation struct {
	ID           int64     `json:"id" db:"id"`
	ItemCode     string    `json:"item_code" db:"item_code"`
	Class        ABCClass  `json:"class" db:"class"`
	OrderQty     int       `json:"order_qty" db:"order_qty"`
	ReorderPoint float64   `json:"reorder_point" db:"reorder_point"`
	SafetyStock  float64   `json:"safety_stock" db:"safety_stock"`
	Reason       string    `json:"reason" db:"reason"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
