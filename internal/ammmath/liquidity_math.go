package ammmath

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNegativeLiquidity is returned when a liquidity delta would drive liquidity below zero.
var ErrNegativeLiquidity = errors.New("liquidity would become negative")

// AddDelta applies a signed liquidity delta.
func AddDelta(liquidity, delta decimal.Decimal) (decimal.Decimal, error) {
	next := liquidity.Add(delta)
	if next.IsNegative() {
		return Zero, fmt.Errorf("apply %s to %s: %w", delta, liquidity, ErrNegativeLiquidity)
	}
	return next, nil
}

// MaxLiquidityPerTick spreads MaxLiquidity evenly over every usable tick for a spacing.
func MaxLiquidityPerTick(tickSpacing int32) decimal.Decimal {
	if tickSpacing <= 0 {
		tickSpacing = 1
	}
	minTick := (MinTick / tickSpacing) * tickSpacing
	maxTick := (MaxTick / tickSpacing) * tickSpacing
	numTicks := int64((maxTick-minTick)/tickSpacing) + 1
	perTick, _ := DivFloor(MaxLiquidity, decimal.NewFromInt(numTicks))
	return perTick
}

func liquidityForAmount0(sqrtA, sqrtB, amount0 decimal.Decimal) (decimal.Decimal, error) {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)
	return DivFloor(amount0.Mul(sqrtA).Mul(sqrtB), sqrtB.Sub(sqrtA))
}

func liquidityForAmount1(sqrtA, sqrtB, amount1 decimal.Decimal) (decimal.Decimal, error) {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)
	return DivFloor(amount1, sqrtB.Sub(sqrtA))
}

// LiquidityForAmounts returns the largest liquidity that both amounts can fund
// for the range [sqrtA, sqrtB] at the current price.
func LiquidityForAmounts(sqrtCurrent, sqrtA, sqrtB, amount0, amount1 decimal.Decimal) (decimal.Decimal, error) {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)
	if sqrtA.Equal(sqrtB) {
		return Zero, fmt.Errorf("empty price range: %w", ErrDivisionByZero)
	}

	switch {
	case sqrtCurrent.LessThanOrEqual(sqrtA):
		return liquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtCurrent.LessThan(sqrtB):
		liquidity0, err := liquidityForAmount0(sqrtCurrent, sqrtB, amount0)
		if err != nil {
			return Zero, err
		}
		liquidity1, err := liquidityForAmount1(sqrtA, sqrtCurrent, amount1)
		if err != nil {
			return Zero, err
		}
		return decimal.Min(liquidity0, liquidity1), nil
	default:
		return liquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// AmountsForLiquidity returns the token amounts represented by liquidity over
// [sqrtA, sqrtB] at the current price.
func AmountsForLiquidity(sqrtCurrent, sqrtA, sqrtB, liquidity decimal.Decimal, roundUp bool) (decimal.Decimal, decimal.Decimal, error) {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)

	switch {
	case sqrtCurrent.LessThanOrEqual(sqrtA):
		amount0, err := Amount0Delta(sqrtA, sqrtB, liquidity, roundUp)
		return amount0, Zero, err
	case sqrtCurrent.LessThan(sqrtB):
		amount0, err := Amount0Delta(sqrtCurrent, sqrtB, liquidity, roundUp)
		if err != nil {
			return Zero, Zero, err
		}
		return amount0, Amount1Delta(sqrtA, sqrtCurrent, liquidity, roundUp), nil
	default:
		return Zero, Amount1Delta(sqrtA, sqrtB, liquidity, roundUp), nil
	}
}
