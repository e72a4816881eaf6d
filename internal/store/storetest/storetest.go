// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/agentguard/internal/store"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("PutBumpsVersion", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		v1, err := s.Put(ctx, "k", []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), v1)
		v2, err := s.Put(ctx, "k", []byte("plain text"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), v2)

		it, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "plain text", string(it.Value))
		assert.Equal(t, uint64(2), it.Version)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ok, err := s.CompareAndSwap(ctx, "k", 0, []byte(`"first"`))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompareAndSwap(ctx, "k", 0, []byte(`"again"`))
		require.NoError(t, err)
		assert.False(t, ok, "create must fail when the key exists")

		ok, err = s.CompareAndSwap(ctx, "k", 7, []byte(`"stale"`))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndSwap(ctx, "k", 1, []byte(`"second"`))
		require.NoError(t, err)
		assert.True(t, ok)

		it, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `"second"`, string(it.Value))
		assert.Equal(t, uint64(2), it.Version)
	})

	t.Run("DeleteAndList", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, k := range []string{"pending/b", "pending/a", "other"} {
			_, err := s.Put(ctx, k, []byte(k))
			require.NoError(t, err)
		}
		items, err := s.List(ctx, "pending/")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "pending/a", items[0].Key)
		assert.Equal(t, "pending/b", items[1].Key)

		require.NoError(t, s.Delete(ctx, "pending/a"))
		require.NoError(t, s.Delete(ctx, "pending/a"))
		_, err = s.Get(ctx, "pending/a")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("ConcurrentUpdate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := updateWithRetry(ctx, s, "counter", func(old []byte) ([]byte, error) {
					n := 0
					if len(old) > 0 {
						var err error
						if n, err = strconv.Atoi(string(old)); err != nil {
							return nil, err
						}
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		it, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(writers), string(it.Value))
	})

	t.Run("UpdateNilLeavesKey", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.Put(ctx, "k", []byte("v"))
		require.NoError(t, err)
		got, err := store.Update(ctx, s, "k", func([]byte) ([]byte, error) { return nil, nil })
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
		it, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), it.Version)
	})
}

// updateWithRetry repeats store.Update on ErrConflict so heavy contention in
// the suite does not turn into a flaky failure.
func updateWithRetry(ctx context.Context, s store.Store, key string, fn func([]byte) ([]byte, error)) ([]byte, error) {
	for {
		b, err := store.Update(ctx, s, key, fn)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return b, err
	}
}
