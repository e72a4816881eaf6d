// Package store holds the state shared between concurrent agentguard
// invocations: path mappings, pending operations and session metadata.
//
// Every backend exposes the same narrow versioned key/value contract. Writers
// read a value together with its version and publish a new value with
// CompareAndSwap, so two invocations racing on the same key can never
// silently overwrite each other.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key has never been written or
	// was deleted.
	ErrNotFound = errors.New("store: key not found")

	// ErrConflict is returned by Update when the retry budget is exhausted
	// because other writers kept winning the compare-and-swap.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// Item is a stored value and the version it was read at. Version 0 means
// "absent"; the first successful write produces version 1.
type Item struct {
	Key     string
	Value   []byte
	Version uint64
}

// Store is the authoritative session state.
type Store interface {
	Get(ctx context.Context, key string) (Item, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)

	// CompareAndSwap writes value only if the key is currently at version
	// expected (0 = must not exist). It reports whether the write happened.
	CompareAndSwap(ctx context.Context, key string, expected uint64, value []byte) (bool, error)

	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Item, error)
	Close() error
}

// DefaultUpdateRetries bounds the read-modify-CAS loop in Update.
const DefaultUpdateRetries = 16

// Update applies fn to the current value of key and publishes the result
// with compare-and-swap, retrying when another writer got in first. fn
// receives nil when the key does not exist. Returning a nil slice from fn
// leaves the key untouched.
func Update(ctx context.Context, s Store, key string, fn func(old []byte) ([]byte, error)) ([]byte, error) {
	for attempt := 0; attempt < DefaultUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := s.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		next, err := fn(cur.Value)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur.Value, nil
		}
		ok, err := s.CompareAndSwap(ctx, key, cur.Version, next)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", key, err)
		}
		if ok {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", key, ErrConflict)
}
