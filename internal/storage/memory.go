package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

type memoryItem struct {
	cf    string
	key   string
	value []byte
}

func (a memoryItem) less(b memoryItem) bool {
	if a.cf != b.cf {
		return a.cf < b.cf
	}
	return a.key < b.key
}

// MemoryKV is an ordered in-process KV.
type MemoryKV struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[memoryItem]
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{tree: btree.NewG(memoryDegree, memoryItem.less)}
}

func (m *MemoryKV) Get(_ context.Context, cf, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.tree.Get(memoryItem{cf: cf, key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(item.value), nil
}

func (m *MemoryKV) Put(_ context.Context, cf, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.ReplaceOrInsert(memoryItem{cf: cf, key: key, value: cloneBytes(value)})
	return nil
}

func (m *MemoryKV) BatchPut(_ context.Context, cf string, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, value := range values {
		m.tree.ReplaceOrInsert(memoryItem{cf: cf, key: key, value: cloneBytes(value)})
	}
	return nil
}

func (m *MemoryKV) ScanByPrefix(_ context.Context, cf, prefix string, limit int, cursor string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := prefix
	if cursor > start {
		start = cursor
	}

	var out []Entry
	m.tree.AscendGreaterOrEqual(memoryItem{cf: cf, key: start}, func(item memoryItem) bool {
		if item.cf != cf || !strings.HasPrefix(item.key, prefix) {
			return false
		}
		if cursor != "" && item.key <= cursor {
			return true
		}
		out = append(out, Entry{Key: item.key, Value: cloneBytes(item.value)})
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

// Len returns the number of keys stored in cf.
func (m *MemoryKV) Len(cf string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	m.tree.AscendGreaterOrEqual(memoryItem{cf: cf}, func(item memoryItem) bool {
		if item.cf != cf {
			return false
		}
		n++
		return true
	})
	return n
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
