// Package state holds the in-memory ledger the pipeline mutates and the undo
// log used to roll a failed event back.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"exchangeCore/internal/model"
	"exchangeCore/internal/storage"
)

var ErrNotFound = errors.New("entity not found")

// Ledger caches pools, ticks, bitmaps, positions and accounts in memory and
// reads through to the KV store on a miss. It is owned by the pipeline
// goroutine and is not safe for concurrent use.
type Ledger struct {
	kv     storage.KV
	logger *zap.Logger

	pools     map[string]*model.AmmPool
	ticks     map[string]*model.Tick
	bitmaps   map[string]*model.TickBitmap
	positions map[string]*model.AmmPosition
	accounts  map[string]*model.Account
}

func NewLedger(kv storage.KV, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if kv == nil {
		kv = storage.NewMemoryKV()
	}
	return &Ledger{
		kv:        kv,
		logger:    logger,
		pools:     make(map[string]*model.AmmPool),
		ticks:     make(map[string]*model.Tick),
		bitmaps:   make(map[string]*model.TickBitmap),
		positions: make(map[string]*model.AmmPosition),
		accounts:  make(map[string]*model.Account),
	}
}

// load decodes cf/key into out. It reports false when the key is absent.
func (l *Ledger) load(ctx context.Context, cf, key string, out any) (bool, error) {
	data, err := l.kv.Get(ctx, cf, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load %s %s: %w", cf, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", cf, key, err)
	}
	return true, nil
}

func (l *Ledger) Pool(ctx context.Context, pair string) (*model.AmmPool, error) {
	if pool, ok := l.pools[pair]; ok {
		return pool, nil
	}
	pool := &model.AmmPool{}
	found, err := l.load(ctx, storage.CFPools, pair, pool)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("pool %s: %w", pair, ErrNotFound)
	}
	l.pools[pair] = pool
	return pool, nil
}

func (l *Ledger) PutPool(pool *model.AmmPool) {
	l.pools[pool.Pair] = pool
}

func (l *Ledger) dropPool(pair string) {
	delete(l.pools, pair)
}

// Tick returns the tick at index, or ErrNotFound.
func (l *Ledger) Tick(ctx context.Context, pair string, index int32) (*model.Tick, error) {
	key := model.TickKey(pair, index)
	if tick, ok := l.ticks[key]; ok {
		return tick, nil
	}
	tick := &model.Tick{}
	found, err := l.load(ctx, storage.CFTicks, key, tick)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("tick %s: %w", key, ErrNotFound)
	}
	l.ticks[key] = tick
	return tick, nil
}

// TickOrNew returns the tick at index, creating a zeroed one when absent.
// created reports whether the tick did not exist before.
func (l *Ledger) TickOrNew(ctx context.Context, pair string, index int32) (tick *model.Tick, created bool, err error) {
	tick, err = l.Tick(ctx, pair, index)
	if err == nil {
		return tick, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	tick = model.NewTick(pair, index)
	l.ticks[tick.Key()] = tick
	return tick, true, nil
}

func (l *Ledger) dropTick(key string) {
	delete(l.ticks, key)
}

// Bitmap returns the tick bitmap of a pool, empty when none is stored.
func (l *Ledger) Bitmap(ctx context.Context, pair string) (*model.TickBitmap, error) {
	if bitmap, ok := l.bitmaps[pair]; ok {
		return bitmap, nil
	}
	bitmap := model.NewTickBitmap(pair)
	if _, err := l.load(ctx, storage.CFTickBitmaps, pair, bitmap); err != nil {
		return nil, err
	}
	l.bitmaps[pair] = bitmap
	return bitmap, nil
}

func (l *Ledger) Position(ctx context.Context, id string) (*model.AmmPosition, error) {
	if position, ok := l.positions[id]; ok {
		return position, nil
	}
	position := &model.AmmPosition{}
	found, err := l.load(ctx, storage.CFPositions, id, position)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	l.positions[id] = position
	return position, nil
}

func (l *Ledger) PutPosition(position *model.AmmPosition) {
	l.positions[position.Identifier] = position
}

func (l *Ledger) dropPosition(id string) {
	delete(l.positions, id)
}

// AccountOrNew returns the account at key, or an empty one in coin when
// absent. A new account is only cached once PutAccount is called for it.
func (l *Ledger) AccountOrNew(ctx context.Context, key, coin string) (account *model.Account, created bool, err error) {
	if account, ok := l.accounts[key]; ok {
		return account, false, nil
	}
	account = &model.Account{}
	found, err := l.load(ctx, storage.CFAccounts, key, account)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return model.NewAccount(key, coin), true, nil
	}
	l.accounts[key] = account
	return account, false, nil
}

func (l *Ledger) PutAccount(account *model.Account) {
	l.accounts[account.Key] = account
}

func (l *Ledger) dropAccount(key string) {
	delete(l.accounts, key)
}

// PositionsByPool lists persisted positions of a pool through the
// position_index column family. The returned cursor is empty on the last page.
func (l *Ledger) PositionsByPool(ctx context.Context, pair string, limit int, cursor string) ([]*model.AmmPosition, string, error) {
	entries, err := l.kv.ScanByPrefix(ctx, storage.CFPositionIndex, model.PositionIndexPrefix(pair), limit, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("scan position index %s: %w", pair, err)
	}

	positions := make([]*model.AmmPosition, 0, len(entries))
	for _, entry := range entries {
		position, err := l.Position(ctx, string(entry.Value))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				l.logger.Warn("dangling position index entry", zap.String("key", entry.Key))
				continue
			}
			return nil, "", err
		}
		positions = append(positions, position)
	}

	next := ""
	if limit > 0 && len(entries) == limit {
		next = entries[len(entries)-1].Key
	}
	return positions, next, nil
}
