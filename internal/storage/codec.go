package storage

import (
	"encoding/json"
	"fmt"

	"exchangeCore/internal/model"
)

// Batch groups encoded values by column family.
type Batch map[string]map[string][]byte

func (b Batch) add(cf, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", cf, key, err)
	}
	b.addRaw(cf, key, data)
	return nil
}

func (b Batch) addRaw(cf, key string, data []byte) {
	values, ok := b[cf]
	if !ok {
		values = make(map[string][]byte)
		b[cf] = values
	}
	values[key] = data
}

// Len returns the number of values across all column families.
func (b Batch) Len() int {
	n := 0
	for _, values := range b {
		n += len(values)
	}
	return n
}

// Merge copies other into b; later values win.
func (b Batch) Merge(other Batch) {
	for cf, values := range other {
		for key, data := range values {
			b.addRaw(cf, key, data)
		}
	}
}

// EncodeResult maps the entities attached to a result onto column-family batches.
func EncodeResult(r *model.Result) (Batch, error) {
	batch := Batch{}
	if r == nil || r.Duplicate {
		return batch, nil
	}

	if r.Pool != nil {
		if err := batch.add(CFPools, r.Pool.Pair, r.Pool); err != nil {
			return nil, err
		}
	}
	for _, tick := range r.Ticks {
		if err := batch.add(CFTicks, tick.Key(), tick); err != nil {
			return nil, err
		}
	}
	if r.TickBitmap != nil {
		if err := batch.add(CFTickBitmaps, r.TickBitmap.Pair(), r.TickBitmap); err != nil {
			return nil, err
		}
	}
	if r.Position != nil {
		if err := batch.add(CFPositions, r.Position.Identifier, r.Position); err != nil {
			return nil, err
		}
		batch.addRaw(CFPositionIndex,
			model.PositionIndexKey(r.Position.PoolPair, r.Position.Identifier),
			[]byte(r.Position.Identifier))
	}
	if r.Order != nil {
		if err := batch.add(CFOrders, r.Order.Identifier, r.Order); err != nil {
			return nil, err
		}
	}
	for _, account := range r.Accounts {
		if err := batch.add(CFAccounts, account.Key, account); err != nil {
			return nil, err
		}
	}
	for _, history := range r.Histories {
		if err := batch.add(CFAccountHistories, history.HistoryKey(), history); err != nil {
			return nil, err
		}
	}
	return batch, nil
}
