package state

import (
	"go.uber.org/zap"

	"exchangeCore/internal/model"
)

// snapshot pairs a live entity with its pre-event copy. A nil copy means the
// entity did not exist before the event.
type snapshot[T any] struct {
	live *T
	prev *T
}

// Backup is the undo log of one event. Each entity is saved at most once,
// before its first mutation; Rollback restores every saved entity in place.
type Backup struct {
	ledger *Ledger

	pools     map[string]snapshot[model.AmmPool]
	ticks     map[string]snapshot[model.Tick]
	bitmaps   map[string]snapshot[model.TickBitmap]
	positions map[string]snapshot[model.AmmPosition]
	accounts  map[string]snapshot[model.Account]
}

func (l *Ledger) Begin() *Backup {
	return &Backup{
		ledger:    l,
		pools:     make(map[string]snapshot[model.AmmPool]),
		ticks:     make(map[string]snapshot[model.Tick]),
		bitmaps:   make(map[string]snapshot[model.TickBitmap]),
		positions: make(map[string]snapshot[model.AmmPosition]),
		accounts:  make(map[string]snapshot[model.Account]),
	}
}

func (b *Backup) SavePool(pool *model.AmmPool, created bool) {
	if _, ok := b.pools[pool.Pair]; ok {
		return
	}
	s := snapshot[model.AmmPool]{live: pool}
	if !created {
		s.prev = pool.Clone()
	}
	b.pools[pool.Pair] = s
}

func (b *Backup) SaveTick(tick *model.Tick, created bool) {
	key := tick.Key()
	if _, ok := b.ticks[key]; ok {
		return
	}
	s := snapshot[model.Tick]{live: tick}
	if !created {
		s.prev = tick.Clone()
	}
	b.ticks[key] = s
}

// Touched reports whether tick has been saved in this backup.
func (b *Backup) Touched(tick *model.Tick) bool {
	_, ok := b.ticks[tick.Key()]
	return ok
}

func (b *Backup) SaveBitmap(bitmap *model.TickBitmap) {
	if _, ok := b.bitmaps[bitmap.Pair()]; ok {
		return
	}
	b.bitmaps[bitmap.Pair()] = snapshot[model.TickBitmap]{live: bitmap, prev: bitmap.Clone()}
}

func (b *Backup) SavePosition(position *model.AmmPosition, created bool) {
	if _, ok := b.positions[position.Identifier]; ok {
		return
	}
	s := snapshot[model.AmmPosition]{live: position}
	if !created {
		s.prev = position.Clone()
	}
	b.positions[position.Identifier] = s
}

func (b *Backup) SaveAccount(account *model.Account, created bool) {
	if _, ok := b.accounts[account.Key]; ok {
		return
	}
	s := snapshot[model.Account]{live: account}
	if !created {
		s.prev = account.Clone()
	}
	b.accounts[account.Key] = s
}

// Rollback restores every saved entity and forgets the ones created during
// the event.
func (b *Backup) Rollback() {
	for pair, s := range b.pools {
		if s.prev == nil {
			b.ledger.dropPool(pair)
			continue
		}
		*s.live = *s.prev
	}
	for key, s := range b.ticks {
		if s.prev == nil {
			b.ledger.dropTick(key)
			continue
		}
		*s.live = *s.prev
	}
	for _, s := range b.bitmaps {
		*s.live = *s.prev
	}
	for id, s := range b.positions {
		if s.prev == nil {
			b.ledger.dropPosition(id)
			continue
		}
		*s.live = *s.prev
	}
	for key, s := range b.accounts {
		if s.prev == nil {
			b.ledger.dropAccount(key)
			continue
		}
		*s.live = *s.prev
	}

	b.ledger.logger.Debug("rolled back",
		zap.Int("pools", len(b.pools)),
		zap.Int("ticks", len(b.ticks)),
		zap.Int("positions", len(b.positions)),
		zap.Int("accounts", len(b.accounts)),
	)
}
