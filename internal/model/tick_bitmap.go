package model

import (
	"encoding/json"

	"github.com/google/btree"
)

const bitmapDegree = 32

// TickBitmap is the ordered set of initialized ticks of one pool.
type TickBitmap struct {
	pair string
	tree *btree.BTreeG[int32]
}

func NewTickBitmap(pair string) *TickBitmap {
	return &TickBitmap{pair: pair, tree: btree.NewOrderedG[int32](bitmapDegree)}
}

func (b *TickBitmap) Pair() string { return b.pair }

func (b *TickBitmap) Len() int { return b.tree.Len() }

func (b *TickBitmap) Set(tick int32) {
	b.tree.ReplaceOrInsert(tick)
}

func (b *TickBitmap) Clear(tick int32) {
	b.tree.Delete(tick)
}

func (b *TickBitmap) IsSet(tick int32) bool {
	return b.tree.Has(tick)
}

// NextInitializedAtOrBelow returns the greatest initialized tick <= tick.
func (b *TickBitmap) NextInitializedAtOrBelow(tick int32) (int32, bool) {
	var (
		found int32
		ok    bool
	)
	b.tree.DescendLessOrEqual(tick, func(item int32) bool {
		found, ok = item, true
		return false
	})
	return found, ok
}

// NextInitializedAbove returns the smallest initialized tick > tick.
func (b *TickBitmap) NextInitializedAbove(tick int32) (int32, bool) {
	var (
		found int32
		ok    bool
	)
	b.tree.AscendGreaterOrEqual(tick+1, func(item int32) bool {
		found, ok = item, true
		return false
	})
	return found, ok
}

// Ticks returns the initialized ticks in ascending order.
func (b *TickBitmap) Ticks() []int32 {
	out := make([]int32, 0, b.tree.Len())
	b.tree.Ascend(func(item int32) bool {
		out = append(out, item)
		return true
	})
	return out
}

// Clone returns a copy-on-write snapshot; the copy and the original may be
// read and written independently afterwards.
func (b *TickBitmap) Clone() *TickBitmap {
	if b == nil {
		return nil
	}
	return &TickBitmap{pair: b.pair, tree: b.tree.Clone()}
}

type tickBitmapJSON struct {
	Pair  string  `json:"pair"`
	Ticks []int32 `json:"ticks"`
}

func (b *TickBitmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(tickBitmapJSON{Pair: b.pair, Ticks: b.Ticks()})
}

func (b *TickBitmap) UnmarshalJSON(data []byte) error {
	var raw tickBitmapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.pair = raw.Pair
	b.tree = btree.NewOrderedG[int32](bitmapDegree)
	for _, tick := range raw.Ticks {
		b.tree.ReplaceOrInsert(tick)
	}
	return nil
}
