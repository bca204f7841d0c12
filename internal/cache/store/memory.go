package store

import (
	"context"
	"sync"
	"time"

	"cargolink/internal/sentinel"
)

type memoryItem struct {
	entry   Entry
	evictAt time.Time
}

// Memory is an in-process store. Entries are dropped lazily on read and by
// Sweep once their retention ends.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	index map[string]map[string]struct{}
	now   func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		index: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the entry for key in tier or sentinel.ErrNotFound.
func (m *Memory) Get(_ context.Context, tier, key string) (Entry, error) {
	m.mu.RLock()
	item, ok := m.items[itemKey(tier, key)]
	m.mu.RUnlock()
	if !ok || !m.now().Before(item.evictAt) {
		return Entry{}, sentinel.ErrNotFound
	}
	return cloneEntry(item.entry), nil
}

// Set stores e for retain and records its key in the tier index.
func (m *Memory) Set(_ context.Context, e Entry, retain time.Duration) error {
	e = cloneEntry(e)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(e.Tier, e.Key)] = memoryItem{entry: e, evictAt: m.now().Add(retain)}
	keys, ok := m.index[e.Tier]
	if !ok {
		keys = make(map[string]struct{})
		m.index[e.Tier] = keys
	}
	keys[e.Key] = struct{}{}
	return nil
}

// Keys lists the keys of tier whose retention has not ended.
func (m *Memory) Keys(_ context.Context, tier string) ([]string, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.index[tier]))
	for k := range m.index[tier] {
		if item, ok := m.items[itemKey(tier, k)]; ok && now.Before(item.evictAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Delete removes keys and their index records.
func (m *Memory) Delete(_ context.Context, tier string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, itemKey(tier, k))
		delete(m.index[tier], k)
	}
	return nil
}

// Sweep evicts entries whose retention ended and returns how many.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, item := range m.items {
		if now.Before(item.evictAt) {
			continue
		}
		delete(m.items, k)
		delete(m.index[item.entry.Tier], item.entry.Key)
		removed++
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored entries, including unswept ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func itemKey(tier, key string) string {
	return tier + "\x00" + key
}

func cloneEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
