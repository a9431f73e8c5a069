package hints

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
)

// MockReplicaWriter is a mock implementation of ReplicaWriter
type MockReplicaWriter struct {
	mock.Mock
}

func (m *MockReplicaWriter) WriteReplica(ctx context.Context, nodeID string, key []byte, records []model.ValueRecord) error {
	args := m.Called(ctx, nodeID, key, records)
	return args.Error(0)
}

// staticLiveness reports a fixed set of alive nodes
type staticLiveness map[string]bool

func (l staticLiveness) Alive(nodeID string) bool { return l[nodeID] }

func newTestReplayer(store Store, writer ReplicaWriter, liveness Liveness) *Replayer {
	cfg := DefaultReplayerConfig()
	cfg.MaxReplays = 2
	return NewReplayer(cfg, store, writer, liveness, metrics.NewNop(), zap.NewNop())
}

func TestReplayer_DrainsHintsToRecoveredNode(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	writer := new(MockReplicaWriter)
	replayer := newTestReplayer(store, writer, staticLiveness{"n2": true})
	ctx := context.Background()

	hint := newHint("n2", "k1")
	require.NoError(t, store.StoreHint(ctx, hint))

	writer.On("WriteReplica", mock.Anything, "n2", []byte("k1"),
		[]model.ValueRecord{hint.Record}).Return(nil)

	replayer.RunOnce(ctx)

	writer.AssertExpectations(t)
	count, err := store.CountFor(ctx, "n2")
	require.NoError(t, err)
	assert.Zero(t, count, "replayed hint is deleted")
}

func TestReplayer_SkipsDeadTargets(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	writer := new(MockReplicaWriter)
	replayer := newTestReplayer(store, writer, staticLiveness{})
	ctx := context.Background()

	require.NoError(t, store.StoreHint(ctx, newHint("n2", "k1")))

	replayer.RunOnce(ctx)

	writer.AssertNotCalled(t, "WriteReplica",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	count, err := store.CountFor(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "hint stays parked while the target is down")
}

func TestReplayer_FailedReplayIsRetriedThenDropped(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	writer := new(MockReplicaWriter)
	replayer := newTestReplayer(store, writer, staticLiveness{"n2": true})
	ctx := context.Background()

	hint := newHint("n2", "k1")
	require.NoError(t, store.StoreHint(ctx, hint))

	writer.On("WriteReplica", mock.Anything, "n2", mock.Anything, mock.Anything).
		Return(assert.AnError)

	// first failure increments the counter, hint survives
	replayer.RunOnce(ctx)
	hints, err := store.HintsFor(ctx, "n2", 10)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, 1, hints[0].ReplayCount)

	// second failure hits MaxReplays, hint is dropped
	replayer.RunOnce(ctx)
	count, err := store.CountFor(ctx, "n2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReplayer_CountsReplayedHints(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	writer := new(MockReplicaWriter)
	m := metrics.New(prometheus.NewRegistry())
	replayer := NewReplayer(DefaultReplayerConfig(), store, writer,
		staticLiveness{"n2": true}, m, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.StoreHint(ctx, newHint("n2", "k1")))
	require.NoError(t, store.StoreHint(ctx, newHint("n2", "k2")))
	writer.On("WriteReplica", mock.Anything, "n2", mock.Anything, mock.Anything).
		Return(nil)

	replayer.RunOnce(ctx)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HintsReplayed))
}

func TestReplayer_ExpiresOldHintsBeforeReplay(t *testing.T) {
	store := NewMemoryStore(10, zap.NewNop())
	writer := new(MockReplicaWriter)
	cfg := DefaultReplayerConfig()
	cfg.HintTTL = 0 // everything is expired
	replayer := NewReplayer(cfg, store, writer, staticLiveness{"n2": true}, metrics.NewNop(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.StoreHint(ctx, newHint("n2", "k1")))

	replayer.RunOnce(ctx)

	writer.AssertNotCalled(t, "WriteReplica",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	count, err := store.CountFor(ctx, "n2")
	require.NoError(t, err)
	assert.Zero(t, count)
}
