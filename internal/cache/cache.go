// Package cache provides the memoizing accessor backing the upstream
// directory, upstream entity, and target history lookups.
package cache

import (
	"sync"
)

// Memo is a keyed get-or-compute cache with external invalidation.
//
// Race policy: GetOrCompute runs the compute function outside the lock, so
// two concurrent misses for the same key may both compute. Every value
// cached here is idempotent to re-derive from storage; the last writer wins.
type Memo struct {
	mu      sync.RWMutex
	entries map[string]interface{}
}

// New creates an empty cache
func New() *Memo {
	return &Memo{entries: make(map[string]interface{})}
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. A compute error is returned verbatim and nothing is cached.
func (m *Memo) GetOrCompute(key string, compute func() (interface{}, error)) (interface{}, error) {
	m.mu.RLock()
	v, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[key] = v
	m.mu.Unlock()
	return v, nil
}

// Invalidate drops the given keys. Missing keys are ignored.
func (m *Memo) Invalidate(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
}

// Len returns the number of cached entries
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
