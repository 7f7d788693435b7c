package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is a concurrent-safe LRU store with per-entry TTL expiration. It is
// the default backend for single-process deployments and tests.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Stats contains cache performance counters.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewMemory creates a Memory store holding at most maxEntries values.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get retrieves a value. Returns ErrMiss when absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses.Add(1)
		return nil, ErrMiss
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		m.removeFromOrder(key)
		m.misses.Add(1)
		return nil, ErrMiss
	}

	// Move to back (most recently used).
	m.removeFromOrder(key)
	m.order = append(m.order, key)
	m.hits.Add(1)
	return entry.data, nil
}

// Set stores a value, evicting the oldest entry if at capacity.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &memoryEntry{data: value, expiresAt: time.Now().Add(ttl)}

	if _, ok := m.entries[key]; ok {
		m.entries[key] = entry
		m.removeFromOrder(key)
		m.order = append(m.order, key)
		return nil
	}

	for len(m.entries) >= m.maxEntries && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}

	m.entries[key] = entry
	m.order = append(m.order, key)
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if _, ok := m.entries[key]; ok {
			delete(m.entries, key)
			m.removeFromOrder(key)
		}
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	entries := len(m.entries)
	m.mu.Unlock()

	hits := m.hits.Load()
	misses := m.misses.Load()
	total := hits + misses

	stats := Stats{
		Entries:    entries,
		MaxEntries: m.maxEntries,
		Hits:       hits,
		Misses:     misses,
	}
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// removeFromOrder removes a key from the LRU order slice. Caller must hold mu.
func (m *Memory) removeFromOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
