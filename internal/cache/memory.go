package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process FIFO store.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List
	now        func() time.Time
}

type memoryItem struct {
	key   string
	entry Entry
}

// NewMemory creates an in-process store holding at most maxEntries results.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Memory{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		now:        time.Now,
	}, nil
}

// Get returns the entry stored under key.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return el.Value.(*memoryItem).entry, true, nil
}

// Put stores entry under key, evicting the oldest insertion when full.
func (m *Memory) Put(_ context.Context, key string, entry Entry) error {
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		el.Value.(*memoryItem).entry = entry
		return nil
	}

	m.entries[key] = m.order.PushBack(&memoryItem{key: key, entry: entry})
	for m.order.Len() > m.maxEntries {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryItem).key)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len(), nil
}

// Close is a no-op for the in-process store.
func (m *Memory) Close() error { return nil }
