// Package storagetest holds behaviour checks shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/storage"
)

// Run exercises s against the storage.Store contract.
func Run(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set get replace", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k1", []byte("v1")))
		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, s.Set(ctx, "k1", []byte("v2")))
		got, err = s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("list by prefix", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "cache:a:2", []byte("2")))
		require.NoError(t, s.Set(ctx, "cache:a:1", []byte("1")))
		require.NoError(t, s.Set(ctx, "cache:b:1", []byte("x")))
		require.NoError(t, s.Set(ctx, "ledger:x", []byte("y")))

		items, err := s.List(ctx, "cache:a:")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "cache:a:1", items[0].Key)
		assert.Equal(t, []byte("1"), items[0].Value)
		assert.Equal(t, "cache:a:2", items[1].Key)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "gone", []byte("v")))
		require.NoError(t, s.Delete(ctx, "gone"))
		_, err := s.Get(ctx, "gone")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "gone"))
	})
}
