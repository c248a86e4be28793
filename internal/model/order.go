package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderSuccess    OrderStatus = "success"
	OrderError      OrderStatus = "error"
)

// AmmOrder is a one-shot swap against a pool. AmountSpecified > 0 is an exact
// input, < 0 an exact output.
type AmmOrder struct {
	Identifier       string                     `json:"identifier"`
	PoolPair         string                     `json:"pool_pair"`
	OwnerAccountKey0 string                     `json:"owner_account_key0"`
	OwnerAccountKey1 string                     `json:"owner_account_key1"`
	ZeroForOne       bool                       `json:"zero_for_one"`
	AmountSpecified  decimal.Decimal            `json:"amount_specified"`
	Slippage         decimal.Decimal            `json:"slippage"`
	Amount0          decimal.Decimal            `json:"amount0"`
	Amount1          decimal.Decimal            `json:"amount1"`
	AmountEstimated  decimal.Decimal            `json:"amount_estimated"`
	Fees             map[string]decimal.Decimal `json:"fees"`
	BeforeTickIndex  int32                      `json:"before_tick_index"`
	AfterTickIndex   int32                      `json:"after_tick_index"`
	SqrtPriceBefore  decimal.Decimal            `json:"sqrt_price_before"`
	SqrtPriceAfter   decimal.Decimal            `json:"sqrt_price_after"`
	Status           OrderStatus                `json:"status"`
	ErrorMessage     string                     `json:"error_message,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

func (o *AmmOrder) Clone() *AmmOrder {
	if o == nil {
		return nil
	}
	c := *o
	if o.Fees != nil {
		c.Fees = make(map[string]decimal.Decimal, len(o.Fees))
		for k, v := range o.Fees {
			c.Fees[k] = v
		}
	}
	return &c
}

func (o *AmmOrder) ExactInput() bool {
	return o.AmountSpecified.IsPositive()
}
