// Package ammmath implements concentrated-liquidity math over fixed-scale decimals.
package ammmath

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of fractional digits kept by every stored decimal.
	Scale int32 = 20

	MinTick int32 = -887272
	MaxTick int32 = -MinTick
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)

	// TickBase is the price ratio between two adjacent ticks.
	TickBase = decimal.RequireFromString("1.0001")

	// MaxLiquidity bounds the liquidity that may reference ticks of a pool.
	MaxLiquidity = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

	// ulp is the smallest positive value representable at Scale.
	ulp = decimal.New(1, -Scale)
)
