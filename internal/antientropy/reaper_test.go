package antientropy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/storage"
	"github.com/driftdb/driftdb/internal/version"
)

// peerFrontiers serves fixed frontiers for peer reads.
type peerFrontiers struct {
	byNode map[string]map[string][]model.ValueRecord
}

func (p peerFrontiers) ReadReplica(_ context.Context, node model.Member, key []byte) ([]model.ValueRecord, error) {
	return p.byNode[node.NodeID][string(key)], nil
}

func tombstoneAt(ts int64) model.ValueRecord {
	return model.ValueRecord{
		Clock:     model.VectorClock{Entries: []model.VectorClockEntry{{NodeID: "n1", Counter: 5}}},
		Timestamp: ts,
		Origin:    "n1",
		Tombstone: true,
	}
}

func newReaperFixture(t *testing.T, peers peerFrontiers) (*Reaper, *storage.Replica) {
	t.Helper()
	replica := storage.NewReplica("n1",
		storage.NewMemoryEngine(token),
		version.NewResolver(version.PolicyVectorClock),
		zap.NewNop())

	rng := ring.New(2, 16)
	rng.OnMembershipChange([]model.Member{
		{NodeID: "n1", Address: "n1:7070", Status: model.StatusActive},
		{NodeID: "n2", Address: "n2:7070", Status: model.StatusActive},
	})
	table := membership.NewTable(model.Member{NodeID: "n1", Address: "n1:7070"}, zap.NewNop())
	table.Merge([]model.Member{{NodeID: "n2", Address: "n2:7070", Status: model.StatusActive}})

	cfg := DefaultReaperConfig()
	cfg.GracePeriod = time.Hour
	reaper := NewReaper(cfg, replica, rng, table, peers, metrics.NewNop(), zap.NewNop())
	return reaper, replica
}

func TestReaper_PurgesPropagatedExpiredTombstone(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	tomb := tombstoneAt(old)
	peers := peerFrontiers{byNode: map[string]map[string][]model.ValueRecord{
		"n2": {"k1": {tomb}},
	}}
	reaper, replica := newReaperFixture(t, peers)
	ctx := context.Background()

	require.NoError(t, replica.Engine().Put(ctx, []byte("k1"), []model.ValueRecord{tomb}))

	reaper.RunOnce(ctx)

	records, err := replica.Read(ctx, []byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, records, "expired, fully propagated tombstone is purged")
}

func TestReaper_KeepsTombstoneInsideGrace(t *testing.T) {
	fresh := tombstoneAt(time.Now().UnixMilli())
	peers := peerFrontiers{byNode: map[string]map[string][]model.ValueRecord{
		"n2": {"k1": {fresh}},
	}}
	reaper, replica := newReaperFixture(t, peers)
	ctx := context.Background()

	require.NoError(t, replica.Engine().Put(ctx, []byte("k1"), []model.ValueRecord{fresh}))

	reaper.RunOnce(ctx)

	records, err := replica.Read(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Len(t, records, 1, "tombstone inside the grace period survives")
}

func TestReaper_KeepsTombstoneNotYetPropagated(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	tomb := tombstoneAt(old)
	// the peer still holds a live value for k1
	peers := peerFrontiers{byNode: map[string]map[string][]model.ValueRecord{
		"n2": {"k1": {rec("still-live", 1)}},
	}}
	reaper, replica := newReaperFixture(t, peers)
	ctx := context.Background()

	require.NoError(t, replica.Engine().Put(ctx, []byte("k1"), []model.ValueRecord{tomb}))

	reaper.RunOnce(ctx)

	records, err := replica.Read(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Len(t, records, 1,
		"a tombstone the peers have not seen yet must not be purged")
}

func TestReaper_IgnoresLiveKeys(t *testing.T) {
	peers := peerFrontiers{byNode: map[string]map[string][]model.ValueRecord{"n2": {}}}
	reaper, replica := newReaperFixture(t, peers)
	ctx := context.Background()

	require.NoError(t, replica.Engine().Put(ctx, []byte("k1"), []model.ValueRecord{rec("v", 1)}))

	reaper.RunOnce(ctx)

	records, err := replica.Read(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Len(t, records, 1)
}
