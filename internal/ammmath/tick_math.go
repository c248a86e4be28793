package ammmath

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const floatPrec = 512

var (
	// parsed from text: 1.0001 has no exact binary64 form
	tickBaseFloat = mustParseFloat("1.0001")
	logTickBase   = math.Log(1.0001)
)

func mustParseFloat(s string) *big.Float {
	f, _, err := big.ParseFloat(s, 10, floatPrec, big.ToNearestEven)
	if err != nil {
		panic(err)
	}
	return f
}

// ClampTick bounds tick to [MinTick, MaxTick].
func ClampTick(tick int32) int32 {
	if tick < MinTick {
		return MinTick
	}
	if tick > MaxTick {
		return MaxTick
	}
	return tick
}

// TickToSqrtPrice returns sqrt(1.0001^tick) rounded half-up to Scale.
func TickToSqrtPrice(tick int32) decimal.Decimal {
	tick = ClampTick(tick)
	if tick == 0 {
		return One
	}

	abs := tick
	if abs < 0 {
		abs = -abs
	}

	result := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	base := new(big.Float).SetPrec(floatPrec).Set(tickBaseFloat)
	for n := uint32(abs); n > 0; n >>= 1 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
	}
	result.Sqrt(result)
	if tick < 0 {
		result.Quo(new(big.Float).SetPrec(floatPrec).SetInt64(1), result)
	}

	d, err := decimal.NewFromString(result.Text('f', int(Scale)+8))
	if err != nil {
		return Zero
	}
	return d.Round(Scale)
}

// MinSqrtPrice is the sqrt price at MinTick.
func MinSqrtPrice() decimal.Decimal {
	return TickToSqrtPrice(MinTick)
}

// MaxSqrtPrice is the sqrt price at MaxTick.
func MaxSqrtPrice() decimal.Decimal {
	return TickToSqrtPrice(MaxTick)
}

// SwapPriceLimit is the furthest sqrt price a swap may reach in its direction.
func SwapPriceLimit(zeroForOne bool) decimal.Decimal {
	if zeroForOne {
		return TickToSqrtPrice(MinTick + 1)
	}
	return TickToSqrtPrice(MaxTick - 1)
}

// SqrtPriceToTick returns the greatest tick whose sqrt price is <= sqrtPrice,
// clamped to [MinTick, MaxTick].
func SqrtPriceToTick(sqrtPrice decimal.Decimal) int32 {
	if sqrtPrice.Sign() <= 0 {
		return MinTick
	}

	f, _ := sqrtPrice.Float64()
	var tick int32
	switch {
	case f <= 0:
		tick = MinTick
	case math.IsInf(f, 1):
		tick = MaxTick
	default:
		estimate := math.Floor(2 * math.Log(f) / logTickBase)
		switch {
		case estimate < float64(MinTick):
			tick = MinTick
		case estimate > float64(MaxTick):
			tick = MaxTick
		default:
			tick = int32(estimate)
		}
	}

	for tick > MinTick && TickToSqrtPrice(tick).GreaterThan(sqrtPrice) {
		tick--
	}
	for tick < MaxTick && TickToSqrtPrice(tick+1).LessThanOrEqual(sqrtPrice) {
		tick++
	}
	return tick
}

// PriceFromSqrtPrice squares sqrtPrice at Scale.
func PriceFromSqrtPrice(sqrtPrice decimal.Decimal) decimal.Decimal {
	return Normalize(sqrtPrice.Mul(sqrtPrice))
}
