package policy

import (
	"fmt"
	"math"
	"sort"

	"stockcast/internal/domain"
)

// ABC cumulative-value thresholds (percent of total annual value).
const (
	classACutoffPct = 80.0
	classBCutoffPct = 95.0
)

// Annual consumption periods: forecasts are weekly-scaled, 13 four-week
// periods approximate a year.
const annualPeriods = 13

// Service-level z-scores per class.
var zScores = map[domain.ABCClass]float64{
	domain.ClassA: 2.33, // 99%
	domain.ClassB: 1.65, // 95%
	domain.ClassC: 1.28, // 90%
}

// ItemForecast is the policy engine's input: one item with a fresh
// forecast and its quantile approximations.
type ItemForecast struct {
	ItemCode     string
	Mean         float64 // predicted usage over the horizon
	P05          float64
	P95          float64
	HorizonDays  int
	LeadTimeDays int
	CurrentStock float64
	UnitCost     float64
}

// Classified pairs an item with its ABC class and annual value.
type Classified struct {
	ItemForecast
	Class       domain.ABCClass
	AnnualValue float64
}

// Classify partitions items by cumulative annual consumption value:
// A up to 80% of total value, B up to 95%, C thereafter. The returned
// slice is sorted by descending annual value.
func Classify(items []ItemForecast) []Classified {
	out := make([]Classified, len(items))
	var total float64
	for i, it := range items {
		value := it.Mean * annualPeriods * it.UnitCost
		out[i] = Classified{ItemForecast: it, AnnualValue: value}
		total += value
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AnnualValue > out[j].AnnualValue })

	var cum float64
	for i := range out {
		cum += out[i].AnnualValue
		cumPct := 100.0
		if total > 0 {
			cumPct = 100 * cum / total
		}
		switch {
		case cumPct <= classACutoffPct:
			out[i].Class = domain.ClassA
		case cumPct <= classBCutoffPct:
			out[i].Class = domain.ClassB
		default:
			out[i].Class = domain.ClassC
		}
	}
	return out
}

// Recommend computes service-level reorder recommendations, ABC-sorted.
// Items whose stock already covers the reorder point emit nothing.
func Recommend(items []ItemForecast) []domain.Recommendation {
	classified := Classify(items)

	var recs []domain.Recommendation
	for _, item := range classified {
		rec, ok := recommendOne(item)
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// recommendOne sizes safety stock from demand variability at the class's
// service level.
func recommendOne(item Classified) (domain.Recommendation, bool) {
	if item.HorizonDays <= 0 || item.LeadTimeDays <= 0 {
		return domain.Recommendation{}, false
	}

	// Daily demand std-dev from the 5th/95th quantile spread.
	sigmaDaily := (item.P95 - item.P05) / (2 * 1.65 * math.Sqrt(float64(item.HorizonDays)))
	sigmaLead := math.Sqrt(float64(item.LeadTimeDays) * sigmaDaily * sigmaDaily)
	safety := zScores[item.Class] * sigmaLead

	dailyDemand := item.Mean / float64(item.HorizonDays)
	reorderPoint := dailyDemand*float64(item.LeadTimeDays) + safety

	if item.CurrentStock >= reorderPoint {
		return domain.Recommendation{}, false
	}

	qty := int(math.Ceil(item.Mean + safety - item.CurrentStock))
	if qty < 0 {
		qty = 0
	}

	return domain.Recommendation{
		ItemCode:     item.ItemCode,
		Class:        item.Class,
		OrderQty:     qty,
		ReorderPoint: reorderPoint,
		SafetyStock:  safety,
		Reason: fmt.Sprintf("stock %.1f below reorder point %.1f (class %s, gap %.1f)",
			item.CurrentStock, reorderPoint, item.Class, reorderPoint-item.CurrentStock),
		Status: "pending",
	}, true
}
