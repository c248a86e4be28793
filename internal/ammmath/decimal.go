package ammmath

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned by the division helpers.
var ErrDivisionByZero = errors.New("division by zero")

// Normalize rounds d half-up to Scale.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// DivFloor returns a/b rounded toward negative infinity at Scale.
func DivFloor(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return Zero, ErrDivisionByZero
	}
	q, r := a.QuoRem(b, Scale)
	if !r.IsZero() && (r.Sign() != b.Sign()) {
		q = q.Sub(ulp)
	}
	return q, nil
}

// DivCeil returns a/b rounded toward positive infinity at Scale.
func DivCeil(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return Zero, ErrDivisionByZero
	}
	q, r := a.QuoRem(b, Scale)
	if !r.IsZero() && (r.Sign() == b.Sign()) {
		q = q.Add(ulp)
	}
	return q, nil
}

// DivHalfUp returns a/b rounded half away from zero at Scale.
func DivHalfUp(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return a.DivRound(b, Scale), nil
}

// MulFloor returns a*b truncated toward negative infinity at Scale.
func MulFloor(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).RoundFloor(Scale)
}

// MulCeil returns a*b rounded toward positive infinity at Scale.
func MulCeil(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).RoundCeil(Scale)
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}
