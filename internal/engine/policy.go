package engine

import (
	"math"
)

// Order reason strings persisted on forecast lines.
const (
	ReasonBelowReorderPoint = "below_reorder_point"
	ReasonBelowParLevel     = "below_par_level"
	ReasonSufficientStock   = "sufficient_stock"
)

// OrderDecision is the reorder outcome for one item.
type OrderDecision struct {
	OrderQty     int
	Reason       string
	ReorderPoint float64
	SafetyStock  float64
}

// orderPolicy computes the recommended order quantity against par,
// safety-percentage and lead-time policy. Quantity is a non-negative
// integer; it is non-increasing in currentStock for fixed inputs.
func orderPolicy(pred, currentStock, par float64, leadTimeDays int, safetyPct float64) OrderDecision {
	safetyStock := pred * safetyPct
	reorderPoint := pred*float64(leadTimeDays)/7 + safetyStock

	d := OrderDecision{
		Reason:       ReasonSufficientStock,
		ReorderPoint: reorderPoint,
		SafetyStock:  safetyStock,
	}

	switch {
	case currentStock < reorderPoint:
		target := par
		if target <= 0 {
			target = 2 * pred
		}
		d.OrderQty = int(math.Ceil(math.Max(0, target-currentStock+safetyStock)))
		d.Reason = ReasonBelowReorderPoint
	case par > 0 && currentStock < 0.8*par:
		d.OrderQty = int(math.Ceil(par - currentStock))
		d.Reason = ReasonBelowParLevel
	}

	if d.OrderQty < 0 {
		d.OrderQty = 0
	}
	return d
}
