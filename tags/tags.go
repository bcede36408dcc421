/*
Package tags implements the tag invalidation store.

Cached artifacts carry tags. Revalidating a tag records the time, and an
artifact rendered before the latest revalidation of any of its tags is
not served from the cache anymore. Revalidation times only move forward.
*/
package tags

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreFailure wraps the errors of the external stores.
var ErrStoreFailure = errors.New("tag store failure")

// Store answers whether any of the tags was revalidated after ts, unix
// milliseconds.
type Store interface {
	IsAnyTagRevalidatedAfter(ctx context.Context, tags []string, ts int64) (bool, error)
}

// Revalidator records the revalidation of tags at ts, unix
// milliseconds.
type Revalidator interface {
	Revalidate(ctx context.Context, tags []string, ts int64) error
}

// Memory is an in-process store.
type Memory struct {
	mu          sync.RWMutex
	revalidated map[string]int64
}

func NewMemory() *Memory {
	return &Memory{revalidated: make(map[string]int64)}
}

func (m *Memory) IsAnyTagRevalidatedAfter(_ context.Context, tags []string, ts int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range tags {
		if m.revalidated[t] > ts {
			return true, nil
		}
	}

	return false, nil
}

func (m *Memory) Revalidate(_ context.Context, tags []string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		if ts > m.revalidated[t] {
			m.revalidated[t] = ts
		}
	}

	return nil
}
