package dedup

import (
	"context"
	"sync"
)

// MemoryIndex is the flat, in-process variant spec.md §4.5 allows
// ("a flat shared bytearray per shard with linear search"); here it is
// a plain guarded map, which is the Go-idiomatic rendition of the same
// idea for archive sizes that fit comfortably in memory.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryIndex creates an empty in-process dedup index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (idx *MemoryIndex) Lookup(ctx context.Context, hash string) (Entry, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[hash]
	return e, ok, nil
}

func (idx *MemoryIndex) Insert(ctx context.Context, hash string, entry Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.entries[hash]; exists {
		return nil
	}
	idx.entries[hash] = entry
	return nil
}

func (idx *MemoryIndex) Len(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

var _ Index = (*MemoryIndex)(nil)
