package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.storedAt.Add(e.ttl))
}

// Memory is an in-memory implementation of Store with per-entry TTL and an
// optional least-recently-used bound on entry count.
//
// WARNING: not suitable for distributed deployments. Each instance keeps its
// own state, so the quota-saving effect of the cache is per instance only.
// Use Memory for local development, tests, and single-instance deployments;
// use the Redis store for production distributed systems.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front is most recently used
	maxEntries int        // 0 means unbounded
	stopCh     chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// MemoryWithMaxEntries bounds the store to n entries, evicting the least
// recently used entry on overflow. Zero (the default) disables eviction.
func MemoryWithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// NewMemory creates an in-memory store with automatic cleanup of expired
// entries.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanup()
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.entries[key]
	if !exists {
		return nil, nil
	}
	entry := elem.Value.(*memoryEntry)
	if entry.expired(m.now()) {
		m.removeLocked(elem)
		return nil, nil
	}

	m.lru.MoveToFront(elem)
	return &Entry{
		Value:    entry.value,
		StoredAt: entry.storedAt,
		TTL:      entry.ttl,
	}, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.entries[key]; exists {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.storedAt = m.now()
		entry.ttl = ttl
		m.lru.MoveToFront(elem)
		return nil
	}

	elem := m.lru.PushFront(&memoryEntry{
		key:      key,
		value:    value,
		storedAt: m.now(),
		ttl:      ttl,
	})
	m.entries[key] = elem

	if m.maxEntries > 0 && m.lru.Len() > m.maxEntries {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeLocked(oldest)
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.entries[key]; exists {
		m.removeLocked(elem)
	}
	return nil
}

// Len reports the current entry count, including not-yet-swept expired
// entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	m.lru.Remove(elem)
	delete(m.entries, entry.key)
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			var next *list.Element
			for elem := m.lru.Front(); elem != nil; elem = next {
				next = elem.Next()
				if elem.Value.(*memoryEntry).expired(now) {
					m.removeLocked(elem)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
