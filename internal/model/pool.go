package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmmPool is the concentrated-liquidity pool of one trading pair.
type AmmPool struct {
	Pair                string          `json:"pair"`
	Token0              string          `json:"token0"`
	Token1              string          `json:"token1"`
	FeePercentage       decimal.Decimal `json:"fee_percentage"`
	TickSpacing         int32           `json:"tick_spacing"`
	CurrentTick         int32           `json:"current_tick"`
	SqrtPrice           decimal.Decimal `json:"sqrt_price"`
	Liquidity           decimal.Decimal `json:"liquidity"`
	FeeGrowthGlobal0    decimal.Decimal `json:"fee_growth_global0"`
	FeeGrowthGlobal1    decimal.Decimal `json:"fee_growth_global1"`
	TotalValueLocked0   decimal.Decimal `json:"total_value_locked0"`
	TotalValueLocked1   decimal.Decimal `json:"total_value_locked1"`
	Volume0             decimal.Decimal `json:"volume0"`
	Volume1             decimal.Decimal `json:"volume1"`
	MaxLiquidityPerTick decimal.Decimal `json:"max_liquidity_per_tick"`
	IsActive            bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Clone returns an independent copy. Decimals are immutable, so a value copy is deep.
func (p *AmmPool) Clone() *AmmPool {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Token returns the token symbol on the given side of the pair.
func (p *AmmPool) Token(zero bool) string {
	if zero {
		return p.Token0
	}
	return p.Token1
}

// PoolParams creates or updates a pool.
type PoolParams struct {
	Pair          string          `json:"pair"`
	Token0        string          `json:"token0"`
	Token1        string          `json:"token1"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	TickSpacing   int32           `json:"tick_spacing"`
	InitialTick   int32           `json:"initial_tick"`
	IsActive      *bool           `json:"is_active,omitempty"`
}
