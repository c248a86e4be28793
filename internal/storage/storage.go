package storage

import (
	"context"
	"errors"
)

// Column families used by the engine.
const (
	CFPools            = "pools"
	CFTicks            = "ticks"
	CFTickBitmaps      = "tick_bitmaps"
	CFPositions        = "positions"
	CFPositionIndex    = "position_index"
	CFOrders           = "orders"
	CFAccounts         = "accounts"
	CFAccountHistories = "account_histories"
)

// ColumnFamilies lists every column family in write order.
var ColumnFamilies = []string{
	CFPools,
	CFTicks,
	CFTickBitmaps,
	CFPositions,
	CFPositionIndex,
	CFOrders,
	CFAccounts,
	CFAccountHistories,
}

var ErrNotFound = errors.New("key not found")

// Entry is one key/value pair returned by a scan.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the durable key-value store backing the ledger.
type KV interface {
	Get(ctx context.Context, cf, key string) ([]byte, error)
	Put(ctx context.Context, cf, key string, value []byte) error
	BatchPut(ctx context.Context, cf string, values map[string][]byte) error
	// ScanByPrefix returns up to limit entries whose key starts with prefix,
	// in key order, strictly after cursor when cursor is non-empty.
	ScanByPrefix(ctx context.Context, cf, prefix string, limit int, cursor string) ([]Entry, error)
}
