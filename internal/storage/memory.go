// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process journal. It keeps insertion-independent ordering
// by sorting on (market, block, index) at read time.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Append stores the record unless its key is already present.
func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.Key()
	if _, ok := m.records[key]; ok {
		return nil
	}
	m.records[key] = rec
	return nil
}

// List returns matching records ordered by market, block and index.
func (m *Memory) List(_ context.Context, market string, limit, offset int) ([]Record, error) {
	m.mu.RLock()
	matched := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if market == "" || rec.Market == market {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Market != matched[j].Market {
			return matched[i].Market < matched[j].Market
		}
		if matched[i].Block != matched[j].Block {
			return matched[i].Block < matched[j].Block
		}
		return matched[i].Index < matched[j].Index
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count reports how many records match.
func (m *Memory) Count(_ context.Context, market string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if market == "" {
		return int64(len(m.records)), nil
	}
	var n int64
	for _, rec := range m.records {
		if rec.Market == market {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory journal.
func (m *Memory) Close() error { return nil }
