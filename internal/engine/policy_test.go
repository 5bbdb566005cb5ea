package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderPolicyBelowReorderPoint(t *testing.T) {
	// pred=10, safety%=20 → safety=2.0, reorder=10·7/7+2=12.0. Stock 5 with
	// no par: target=2·10=20, qty=ceil(20-5+2)=17.
	d := orderPolicy(10, 5, 0, 7, 0.20)

	assert.Equal(t, ReasonBelowReorderPoint, d.Reason)
	assert.Equal(t, 17, d.OrderQty)
	assert.InDelta(t, 2.0, d.SafetyStock, 1e-9)
	assert.InDelta(t, 12.0, d.ReorderPoint, 1e-9)
}

func TestOrderPolicyParOverridesTarget(t *testing.T) {
	// Below reorder with par set: the par level is the target.
	d := orderPolicy(10, 5, 30, 7, 0.20)
	assert.Equal(t, ReasonBelowReorderPoint, d.Reason)
	assert.Equal(t, 27, d.OrderQty) // ceil(30-5+2)
}

func TestOrderPolicyBelowParLevel(t *testing.T) {
	// Stock above the reorder point but under 80% of par.
	d := orderPolicy(10, 15, 20, 7, 0.20)
	assert.Equal(t, ReasonBelowParLevel, d.Reason)
	assert.Equal(t, 5, d.OrderQty) // ceil(20-15)
}

func TestOrderPolicySufficientStock(t *testing.T) {
	d := orderPolicy(10, 50, 20, 7, 0.20)
	assert.Equal(t, ReasonSufficientStock, d.Reason)
	assert.Equal(t, 0, d.OrderQty)
}

func TestOrderPolicyZeroPrediction(t *testing.T) {
	d := orderPolicy(0, 0, 0, 3, 0.20)
	assert.Equal(t, ReasonSufficientStock, d.Reason)
	assert.Equal(t, 0, d.OrderQty)
}

func TestOrderPolicyNonNegativeQty(t *testing.T) {
	// Stock far above the implied target still never goes negative.
	for stock := 0.0; stock <= 100; stock += 5 {
		d := orderPolicy(10, stock, 20, 3, 0.20)
		assert.GreaterOrEqual(t, d.OrderQty, 0, "stock %f", stock)
	}
}

func TestOrderPolicyMonotonicInStock(t *testing.T) {
	// For fixed inputs, more stock never increases the recommendation.
	prev := -1
	for stock := 40.0; stock >= 0; stock -= 0.5 {
		d := orderPolicy(10, stock, 20, 7, 0.20)
		if prev >= 0 {
			assert.GreaterOrEqual(t, d.OrderQty, prev,
				"qty decreased from %d as stock dropped to %f", prev, stock)
		}
		prev = d.OrderQty
	}
}
