package ammmath

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidFee is returned for fee percentages outside [0, 1).
var ErrInvalidFee = errors.New("fee percentage must be in [0, 1)")

// SwapStep is the outcome of one swap step inside a single tick segment.
type SwapStep struct {
	SqrtPriceNext decimal.Decimal
	AmountIn      decimal.Decimal
	AmountOut     decimal.Decimal
	FeeAmount     decimal.Decimal
}

// ComputeSwapStep moves the price from sqrtCurrent toward sqrtTarget as far as
// amountRemaining allows. A positive amountRemaining is an exact input, a
// negative one an exact output. The returned price never passes sqrtTarget.
func ComputeSwapStep(
	sqrtCurrent decimal.Decimal,
	sqrtTarget decimal.Decimal,
	liquidity decimal.Decimal,
	amountRemaining decimal.Decimal,
	feePercentage decimal.Decimal,
) (SwapStep, error) {
	if feePercentage.IsNegative() || feePercentage.GreaterThanOrEqual(One) {
		return SwapStep{}, fmt.Errorf("fee %s: %w", feePercentage, ErrInvalidFee)
	}
	if sqrtCurrent.Sign() <= 0 || sqrtTarget.Sign() <= 0 {
		return SwapStep{}, ErrInvalidPrice
	}

	zeroForOne := sqrtCurrent.GreaterThanOrEqual(sqrtTarget)
	exactIn := !amountRemaining.IsNegative()
	feeComplement := One.Sub(feePercentage)

	var (
		step SwapStep
		err  error
	)

	if exactIn {
		amountRemainingLessFee := MulFloor(amountRemaining, feeComplement)
		if zeroForOne {
			step.AmountIn, err = Amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
			if err != nil {
				return SwapStep{}, err
			}
		} else {
			step.AmountIn = Amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
		}
		if amountRemainingLessFee.GreaterThanOrEqual(step.AmountIn) {
			step.SqrtPriceNext = sqrtTarget
		} else {
			step.SqrtPriceNext, err = NextSqrtPriceFromInput(sqrtCurrent, liquidity, amountRemainingLessFee, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if zeroForOne {
			step.AmountOut = Amount1Delta(sqrtTarget, sqrtCurrent, liquidity, false)
		} else {
			step.AmountOut, err = Amount0Delta(sqrtCurrent, sqrtTarget, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if amountRemaining.Neg().GreaterThanOrEqual(step.AmountOut) {
			step.SqrtPriceNext = sqrtTarget
		} else {
			step.SqrtPriceNext, err = NextSqrtPriceFromOutput(sqrtCurrent, liquidity, amountRemaining.Neg(), zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	if zeroForOne && step.SqrtPriceNext.LessThan(sqrtTarget) {
		step.SqrtPriceNext = sqrtTarget
	}
	if !zeroForOne && step.SqrtPriceNext.GreaterThan(sqrtTarget) {
		step.SqrtPriceNext = sqrtTarget
	}

	reachedTarget := step.SqrtPriceNext.Equal(sqrtTarget)

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			step.AmountIn, err = Amount0Delta(step.SqrtPriceNext, sqrtCurrent, liquidity, true)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = Amount1Delta(step.SqrtPriceNext, sqrtCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			step.AmountIn = Amount1Delta(sqrtCurrent, step.SqrtPriceNext, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut, err = Amount0Delta(sqrtCurrent, step.SqrtPriceNext, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	if !exactIn && step.AmountOut.GreaterThan(amountRemaining.Neg()) {
		step.AmountOut = amountRemaining.Neg()
	}

	if exactIn && !reachedTarget {
		if step.AmountIn.GreaterThan(amountRemaining) {
			step.AmountIn = amountRemaining
		}
		// the price stopped short of the target: whatever input is left is fee
		step.FeeAmount = amountRemaining.Sub(step.AmountIn)
	} else {
		step.FeeAmount, err = DivCeil(step.AmountIn.Mul(feePercentage), feeComplement)
		if err != nil {
			return SwapStep{}, err
		}
		if exactIn && step.AmountIn.Add(step.FeeAmount).GreaterThan(amountRemaining) {
			step.FeeAmount = amountRemaining.Sub(step.AmountIn)
		}
	}
	step.FeeAmount = ClampZero(step.FeeAmount)

	return step, nil
}
