package hints

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

func newHint(target, key string) *model.Hint {
	return &model.Hint{
		HintID:       uuid.New().String(),
		TargetNodeID: target,
		Key:          []byte(key),
		Record: model.ValueRecord{
			Value:     []byte("v"),
			Timestamp: time.Now().UnixMilli(),
			Origin:    "n1",
		},
		CreatedAt: time.Now(),
	}
}

func TestMemoryStore_StoreAndDrain(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	ctx := context.Background()

	first := newHint("n2", "k1")
	second := newHint("n2", "k2")
	require.NoError(t, store.StoreHint(ctx, first))
	require.NoError(t, store.StoreHint(ctx, second))

	count, err := store.CountFor(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	hints, err := store.HintsFor(ctx, "n2", 10)
	require.NoError(t, err)
	require.Len(t, hints, 2)
	assert.Equal(t, first.HintID, hints[0].HintID, "oldest hint comes first")

	require.NoError(t, store.DeleteHint(ctx, first.HintID))
	require.NoError(t, store.DeleteHint(ctx, second.HintID))

	targets, err := store.TargetNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets, "drained node disappears from the target list")
}

func TestMemoryStore_CapDropsOldest(t *testing.T) {
	store := NewMemoryStore(3, zap.NewNop())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		h := newHint("n2", fmt.Sprintf("k%d", i))
		ids = append(ids, h.HintID)
		require.NoError(t, store.StoreHint(ctx, h))
	}

	hints, err := store.HintsFor(ctx, "n2", 10)
	require.NoError(t, err)
	require.Len(t, hints, 3)
	assert.Equal(t, ids[2], hints[0].HintID, "the two oldest hints were evicted")
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	ctx := context.Background()

	old := newHint("n2", "k1")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	fresh := newHint("n2", "k2")
	require.NoError(t, store.StoreHint(ctx, old))
	require.NoError(t, store.StoreHint(ctx, fresh))

	removed, err := store.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	hints, err := store.HintsFor(ctx, "n2", 10)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, fresh.HintID, hints[0].HintID)
}

func TestMemoryStore_IncrementReplayCount(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	ctx := context.Background()

	h := newHint("n2", "k1")
	require.NoError(t, store.StoreHint(ctx, h))
	require.NoError(t, store.IncrementReplayCount(ctx, h.HintID))
	require.NoError(t, store.IncrementReplayCount(ctx, h.HintID))

	hints, err := store.HintsFor(ctx, "n2", 10)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, 2, hints[0].ReplayCount)
}
