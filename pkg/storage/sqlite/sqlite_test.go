package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	require.NoError(t, err)
	return s, path
}

func TestStoreContract(t *testing.T) {
	s, _ := newTestStore(t)
	t.Cleanup(func() { s.Close() })
	storagetest.Run(t, s)
}

func TestStoreSurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(context.Background(), "ledger:shotstack:daily:2026-10-16", []byte("1.5")))
	require.NoError(t, s.Close())

	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), "ledger:shotstack:daily:2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(got))
}

func TestListPrefixIsLiteral(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a%b", []byte("1")))
	require.NoError(t, s.Set(ctx, "axb", []byte("2")))

	items, err := s.List(ctx, "a%")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a%b", items[0].Key)
}
