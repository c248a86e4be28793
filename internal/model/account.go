package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the ledger balance of one user in one coin.
type Account struct {
	Key       string          `json:"key"`
	Coin      string          `json:"coin"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccountKey builds the conventional "<user>:<coin>" key.
func AccountKey(user, coin string) string {
	return user + ":" + coin
}

func NewAccount(key, coin string) *Account {
	return &Account{Key: key, Coin: coin, Available: decimal.Zero, Frozen: decimal.Zero}
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// AccountHistory records one balance change.
type AccountHistory struct {
	Identifier      string          `json:"identifier"`
	AccountKey      string          `json:"account_key"`
	EventID         string          `json:"event_id"`
	Operation       string          `json:"operation"`
	ReferenceID     string          `json:"reference_id"`
	AvailableBefore decimal.Decimal `json:"available_before"`
	AvailableAfter  decimal.Decimal `json:"available_after"`
	FrozenBefore    decimal.Decimal `json:"frozen_before"`
	FrozenAfter     decimal.Decimal `json:"frozen_after"`
	Timestamp       time.Time       `json:"timestamp"`
}

// HistoryKey is the storage key "<accountKey>:<identifier>".
func (h *AccountHistory) HistoryKey() string {
	return h.AccountKey + ":" + h.Identifier
}

// NewAccountHistory derives the identifier from the event, the operation, the
// reference and the account, so replaying the same event yields the same record
// while later events on the same reference get their own.
func NewAccountHistory(before, after *Account, eventID, operation, referenceID string, ts time.Time) *AccountHistory {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID+"/"+operation+"/"+referenceID+"/"+after.Key))
	return &AccountHistory{
		Identifier:      id.String(),
		AccountKey:      after.Key,
		EventID:         eventID,
		Operation:       operation,
		ReferenceID:     referenceID,
		AvailableBefore: before.Available,
		AvailableAfter:  after.Available,
		FrozenBefore:    before.Frozen,
		FrozenAfter:     after.Frozen,
		Timestamp:       ts,
	}
}
