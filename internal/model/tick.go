package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"exchangeCore/internal/ammmath"
)

// Tick is one price boundary of a pool.
type Tick struct {
	PoolPair                 string          `json:"pool_pair"`
	Index                    int32           `json:"index"`
	LiquidityGross           decimal.Decimal `json:"liquidity_gross"`
	LiquidityNet             decimal.Decimal `json:"liquidity_net"`
	FeeGrowthOutside0        decimal.Decimal `json:"fee_growth_outside0"`
	FeeGrowthOutside1        decimal.Decimal `json:"fee_growth_outside1"`
	Initialized              bool            `json:"initialized"`
	TickInitializedTimestamp time.Time       `json:"tick_initialized_timestamp"`
}

// TickKey is the storage key of a tick: "<pair>-<index>".
func TickKey(pair string, index int32) string {
	return pair + "-" + strconv.FormatInt(int64(index), 10)
}

// NewTick returns an uninitialized tick with zeroed counters.
func NewTick(pair string, index int32) *Tick {
	return &Tick{
		PoolPair:          pair,
		Index:             index,
		LiquidityGross:    decimal.Zero,
		LiquidityNet:      decimal.Zero,
		FeeGrowthOutside0: decimal.Zero,
		FeeGrowthOutside1: decimal.Zero,
	}
}

func (t *Tick) Key() string {
	return TickKey(t.PoolPair, t.Index)
}

func (t *Tick) Clone() *Tick {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Growth is the fee-accounting view of the tick.
func (t *Tick) Growth() ammmath.TickGrowth {
	return ammmath.TickGrowth{
		Index:    t.Index,
		Outside0: t.FeeGrowthOutside0,
		Outside1: t.FeeGrowthOutside1,
	}
}

// Reset zeroes the tick once no position references it any more.
func (t *Tick) Reset() {
	t.LiquidityGross = decimal.Zero
	t.LiquidityNet = decimal.Zero
	t.FeeGrowthOutside0 = decimal.Zero
	t.FeeGrowthOutside1 = decimal.Zero
	t.Initialized = false
	t.TickInitializedTimestamp = time.Time{}
}
