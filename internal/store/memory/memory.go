// Package memory is an in-process store.Store used by the long-lived
// daemon, where a single process owns the session state.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/agentsh/agentguard/internal/store"
)

type entry struct {
	value   []byte
	version uint64
}

type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

func New() *Store {
	return &Store{entries: map[string]entry{}}
}

func (s *Store) Get(_ context.Context, key string) (store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return store.Item{Key: key}, store.ErrNotFound
	}
	return store.Item{Key: key, Value: clone(e.value), Version: e.version}, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	e.version++
	e.value = clone(value)
	s.entries[key] = e
	return e.version, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key string, expected uint64, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e.version != expected {
		return false, nil
	}
	s.entries[key] = entry{value: clone(value), version: expected + 1}
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Item
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, store.Item{Key: k, Value: clone(e.value), Version: e.version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
