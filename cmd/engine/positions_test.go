package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
	"exchangeCore/internal/storage"
)

func TestWritePositionsPagesThroughPool(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	for _, p := range []struct{ pair, id string }{
		{"BTC/USDT", "pos-a"},
		{"BTC/USDT", "pos-b"},
		{"BTC/USDT", "pos-c"},
		{"ETH/USDT", "pos-d"},
	} {
		batch, err := storage.EncodeResult(&model.Result{Success: true, Position: &model.AmmPosition{
			Identifier: p.id,
			PoolPair:   p.pair,
			Status:     model.PositionOpen,
		}})
		if err != nil {
			t.Fatalf("encode %s: %v", p.id, err)
		}
		for _, cf := range storage.ColumnFamilies {
			if values, ok := batch[cf]; ok {
				if err := kv.BatchPut(ctx, cf, values); err != nil {
					t.Fatalf("store %s: %v", p.id, err)
				}
			}
		}
	}

	var out bytes.Buffer
	n, err := writePositions(ctx, state.NewLedger(kv, nil), "BTC/USDT", 2, &out)
	if err != nil {
		t.Fatalf("write positions: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 positions, got %d", n)
	}

	var ids []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var position model.AmmPosition
		if err := json.Unmarshal(scanner.Bytes(), &position); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		ids = append(ids, position.Identifier)
	}
	if want := []string{"pos-a", "pos-b", "pos-c"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("positions mismatch: %v", ids)
	}
}
