package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "abc123", []byte("hello")))

	data, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "abc123", []byte("hello")))
	require.NoError(t, store.Delete(ctx, "abc123"))

	_, err := store.Get(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	original := []byte("hello")
	require.NoError(t, store.Put(ctx, "abc123", original))
	original[0] = 'X'

	data, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}
