package ammmath

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice     = errors.New("sqrt price must be positive")
	ErrInvalidLiquidity = errors.New("liquidity must be positive")
	ErrPriceOverflow    = errors.New("amount exceeds available reserves")
)

func sortPrices(a, b decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if a.GreaterThan(b) {
		return b, a
	}
	return a, b
}

// Amount0Delta returns the token0 amount between two sqrt prices for a liquidity:
// L * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func Amount0Delta(sqrtA, sqrtB, liquidity decimal.Decimal, roundUp bool) (decimal.Decimal, error) {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)
	if sqrtA.Sign() <= 0 {
		return Zero, ErrInvalidPrice
	}
	if liquidity.IsZero() || sqrtA.Equal(sqrtB) {
		return Zero, nil
	}

	numerator := liquidity.Mul(sqrtB.Sub(sqrtA))
	denominator := sqrtA.Mul(sqrtB)
	if roundUp {
		return DivCeil(numerator, denominator)
	}
	return DivFloor(numerator, denominator)
}

// Amount1Delta returns the token1 amount between two sqrt prices: L * (sqrtB - sqrtA).
func Amount1Delta(sqrtA, sqrtB, liquidity decimal.Decimal, roundUp bool) decimal.Decimal {
	sqrtA, sqrtB = sortPrices(sqrtA, sqrtB)
	if roundUp {
		return MulCeil(liquidity, sqrtB.Sub(sqrtA))
	}
	return MulFloor(liquidity, sqrtB.Sub(sqrtA))
}

// nextSqrtPriceFromAmount0 rounds up so the price never moves further than the amount pays for.
func nextSqrtPriceFromAmount0(sqrtPrice, liquidity, amount decimal.Decimal, add bool) (decimal.Decimal, error) {
	if amount.IsZero() {
		return sqrtPrice, nil
	}
	numerator := liquidity.Mul(sqrtPrice)
	product := amount.Mul(sqrtPrice)

	if add {
		return DivCeil(numerator, liquidity.Add(product))
	}

	denominator := liquidity.Sub(product)
	if denominator.Sign() <= 0 {
		return Zero, fmt.Errorf("remove %s token0: %w", amount, ErrPriceOverflow)
	}
	return DivCeil(numerator, denominator)
}

// nextSqrtPriceFromAmount1 rounds down for the same reason.
func nextSqrtPriceFromAmount1(sqrtPrice, liquidity, amount decimal.Decimal, add bool) (decimal.Decimal, error) {
	if add {
		quotient, err := DivFloor(amount, liquidity)
		if err != nil {
			return Zero, err
		}
		return sqrtPrice.Add(quotient), nil
	}

	quotient, err := DivCeil(amount, liquidity)
	if err != nil {
		return Zero, err
	}
	if !sqrtPrice.GreaterThan(quotient) {
		return Zero, fmt.Errorf("remove %s token1: %w", amount, ErrPriceOverflow)
	}
	return sqrtPrice.Sub(quotient), nil
}

// NextSqrtPriceFromInput returns the sqrt price after adding amountIn of the input token.
func NextSqrtPriceFromInput(sqrtPrice, liquidity, amountIn decimal.Decimal, zeroForOne bool) (decimal.Decimal, error) {
	if sqrtPrice.Sign() <= 0 {
		return Zero, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return Zero, ErrInvalidLiquidity
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0(sqrtPrice, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1(sqrtPrice, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the sqrt price after removing amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtPrice, liquidity, amountOut decimal.Decimal, zeroForOne bool) (decimal.Decimal, error) {
	if sqrtPrice.Sign() <= 0 {
		return Zero, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return Zero, ErrInvalidLiquidity
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount1(sqrtPrice, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0(sqrtPrice, liquidity, amountOut, false)
}
