package ammmath

import "github.com/shopspring/decimal"

// TickGrowth is the part of a tick that fee accounting reads.
type TickGrowth struct {
	Index    int32
	Outside0 decimal.Decimal
	Outside1 decimal.Decimal
}

// FeeGrowthInside returns the per-liquidity fees accrued strictly inside
// [lower, upper). Fee-growth counters only increase, so a negative
// difference is clamped to zero.
func FeeGrowthInside(lower, upper TickGrowth, currentTick int32, global0, global1 decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	var below0, below1 decimal.Decimal
	if currentTick >= lower.Index {
		below0, below1 = lower.Outside0, lower.Outside1
	} else {
		below0, below1 = global0.Sub(lower.Outside0), global1.Sub(lower.Outside1)
	}

	var above0, above1 decimal.Decimal
	if currentTick < upper.Index {
		above0, above1 = upper.Outside0, upper.Outside1
	} else {
		above0, above1 = global0.Sub(upper.Outside0), global1.Sub(upper.Outside1)
	}

	inside0 := ClampZero(global0.Sub(below0).Sub(above0))
	inside1 := ClampZero(global1.Sub(below1).Sub(above1))
	return inside0, inside1
}

// FeesOwed returns liquidity * (inside - insideLast), never negative.
func FeesOwed(liquidity, inside, insideLast decimal.Decimal) decimal.Decimal {
	return ClampZero(MulFloor(liquidity, inside.Sub(insideLast)))
}

// FeeGrowthDelta is the global fee-growth increment for a fee earned by liquidity.
func FeeGrowthDelta(fee, liquidity decimal.Decimal) decimal.Decimal {
	if liquidity.Sign() <= 0 || fee.Sign() <= 0 {
		return Zero
	}
	delta, _ := DivFloor(fee, liquidity)
	return delta
}
