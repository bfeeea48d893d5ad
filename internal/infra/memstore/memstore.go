// Package memstore provides the in-process keyed store used for balances,
// reputations and loans. Each key carries its own mutex so that writers for
// different participants never contend.
package memstore

import (
	"sort"
	"sync"
)

// Store is a map guarded by an RWMutex plus one mutex per key.
// It satisfies domain.KeyedStore.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[string]T

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an empty store.
func New[T any]() *Store[T] {
	return &Store[T]{
		items: make(map[string]T),
		locks: make(map[string]*sync.Mutex),
	}
}

// Get returns the value stored under key.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Put stores value under key, replacing any previous value.
func (s *Store[T]) Put(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Lock acquires the per-key mutex. The returned func releases it and must be
// called exactly once.
func (s *Store[T]) Lock(key string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Snapshot returns a shallow copy of every entry.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in ascending order.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
