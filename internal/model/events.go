package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind selects the processor an event is dispatched to.
type EventKind string

const (
	KindAmmPool               EventKind = "amm_pool"
	KindAmmOrder              EventKind = "amm_order"
	KindAmmPositionCreate     EventKind = "amm_position_create"
	KindAmmPositionCollectFee EventKind = "amm_position_collect_fee"
	KindAmmPositionClose      EventKind = "amm_position_close"
	KindCoinDeposit           EventKind = "coin_deposit"
	KindCoinWithdrawal        EventKind = "coin_withdrawal"
)

// Event is one inbound mutation request. Exactly one payload is set.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Pool      *PoolParams    `json:"pool,omitempty"`
	Order     *AmmOrder      `json:"order,omitempty"`
	Position  *AmmPosition   `json:"position,omitempty"`
	Balance   *BalanceParams `json:"balance,omitempty"`
}

// BalanceParams moves coins into or out of an account.
type BalanceParams struct {
	AccountKey string          `json:"account_key"`
	Coin       string          `json:"coin"`
	Amount     decimal.Decimal `json:"amount"`
}
