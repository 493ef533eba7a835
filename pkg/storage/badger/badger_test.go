package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/storage/storagetest"
)

func TestStoreContractInMemory(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storagetest.Run(t, s)
}

func TestStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "cache:content:drama:10", []byte("payload")))
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(context.Background(), "cache:content:drama:10")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
