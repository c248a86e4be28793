package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
	PositionError  PositionStatus = "error"
)

// AmmPosition is a liquidity range owned by one user.
type AmmPosition struct {
	Identifier           string          `json:"identifier"`
	PoolPair             string          `json:"pool_pair"`
	OwnerAccountKey0     string          `json:"owner_account_key0"`
	OwnerAccountKey1     string          `json:"owner_account_key1"`
	TickLowerIndex       int32           `json:"tick_lower_index"`
	TickUpperIndex       int32           `json:"tick_upper_index"`
	Liquidity            decimal.Decimal `json:"liquidity"`
	Amount0              decimal.Decimal `json:"amount0"`
	Amount1              decimal.Decimal `json:"amount1"`
	Amount0Initial       decimal.Decimal `json:"amount0_initial"`
	Amount1Initial       decimal.Decimal `json:"amount1_initial"`
	Slippage             decimal.Decimal `json:"slippage"`
	FeeGrowthInside0Last decimal.Decimal `json:"fee_growth_inside0_last"`
	FeeGrowthInside1Last decimal.Decimal `json:"fee_growth_inside1_last"`
	TokensOwed0          decimal.Decimal `json:"tokens_owed0"`
	TokensOwed1          decimal.Decimal `json:"tokens_owed1"`
	FeeCollected0        decimal.Decimal `json:"fee_collected0"`
	FeeCollected1        decimal.Decimal `json:"fee_collected1"`
	Status               PositionStatus  `json:"status"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PositionIndexKey is the per-pool secondary index key "<pool>:<identifier>".
func PositionIndexKey(pair, identifier string) string {
	return pair + ":" + identifier
}

// PositionIndexPrefix selects every index entry of a pool.
func PositionIndexPrefix(pair string) string {
	return pair + ":"
}

func (p *AmmPosition) Clone() *AmmPosition {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// InRange reports whether the position provides liquidity at tick.
func (p *AmmPosition) InRange(tick int32) bool {
	return tick >= p.TickLowerIndex && tick < p.TickUpperIndex
}
