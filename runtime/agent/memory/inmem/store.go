// Package inmem provides an in-memory implementation of memory.Store for
// tests and local development.
package inmem

import (
	"context"
	"sync"

	"goa.design/agentrun/runtime/agent/memory"
)

// Store is an in-memory implementation of memory.Store. It is safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	items []*memory.Item
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Add implements memory.Store.
func (s *Store) Add(_ context.Context, items ...*memory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it == nil {
			continue
		}
		cp := *it
		s.items = append(s.items, &cp)
	}
	return nil
}

// List implements memory.Store.
func (s *Store) List(_ context.Context, kind memory.Kind, userID string) ([]*memory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Item
	for _, it := range s.items {
		if it.Kind != kind {
			continue
		}
		if kind == memory.KindUserMemory && userID != "" && it.UserID != userID {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}
