package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreFailure wraps the errors of the external stores.
var ErrStoreFailure = errors.New("cache store failure")

// Store provides the cached artifacts by normalized path. Get returns
// nil without error when there is no entry.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
}

// Writer stores artifacts, used by the render side and by tests.
type Writer interface {
	Set(ctx context.Context, key string, e *Entry) error
}

// Memory is an in-process store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[key], nil
}

// Set replaces the entry of the key. A nil entry deletes it.
func (m *Memory) Set(_ context.Context, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e == nil {
		delete(m.entries, key)
		return nil
	}

	m.entries[key] = e
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
