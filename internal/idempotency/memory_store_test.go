package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "req-1", []byte("outcome"), time.Minute))

	outcome, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("outcome"), outcome)

	require.NoError(t, store.Delete(ctx, "req-1"))
	_, err = store.Get(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "req-1", []byte("outcome"), time.Minute))

	now = now.Add(30 * time.Second)
	_, err := store.Get(ctx, "req-1")
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = store.Get(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
