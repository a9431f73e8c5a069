package version

import (
	"testing"

	"github.com/driftdb/driftdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(value string, ts int64, origin string, vc model.VectorClock) model.ValueRecord {
	return model.ValueRecord{
		Value:     []byte(value),
		Clock:     vc,
		Timestamp: ts,
		Origin:    origin,
	}
}

func TestReduce_DropsDominatedVersions(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	v1 := record("v1", 100, "n1", clock("n1", 1))
	v2 := record("v2", 200, "n1", clock("n1", 2))

	frontier := r.Reduce([]model.ValueRecord{v1, v2})

	require.Len(t, frontier, 1)
	assert.Equal(t, []byte("v2"), frontier[0].Value)
}

func TestReduce_KeepsConcurrentSiblings(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	a := record("a", 100, "n1", clock("n1", 2, "n2", 1))
	b := record("b", 150, "n2", clock("n1", 1, "n2", 2))

	frontier := r.Reduce([]model.ValueRecord{a, b})

	require.Len(t, frontier, 2, "concurrent versions are never silently dropped")
}

func TestReduce_Idempotent(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	v := record("v", 100, "n1", clock("n1", 1))

	frontier := r.Reduce([]model.ValueRecord{v, v})

	require.Len(t, frontier, 1)
}

func TestReduce_LWWKeepsSingleWinner(t *testing.T) {
	r := NewResolver(PolicyLWW)

	a := record("a", 100, "n1", clock("n1", 1))
	b := record("b", 200, "n2", clock("n2", 1))

	frontier := r.Reduce([]model.ValueRecord{a, b})

	require.Len(t, frontier, 1)
	assert.Equal(t, []byte("b"), frontier[0].Value)
}

func TestReduce_LWWTieBreaksByOrigin(t *testing.T) {
	r := NewResolver(PolicyLWW)

	a := record("a", 100, "n1", clock("n1", 1))
	b := record("b", 100, "n2", clock("n2", 1))

	frontier := r.Reduce([]model.ValueRecord{a, b})

	require.Len(t, frontier, 1)
	assert.Equal(t, []byte("b"), frontier[0].Value)
}

func TestDominant_FlagsConcurrency(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	a := record("a", 100, "n1", clock("n1", 2, "n2", 1))
	b := record("b", 150, "n2", clock("n1", 1, "n2", 2))

	_, concurrent := r.Dominant([]model.ValueRecord{a, b})
	assert.True(t, concurrent)

	winner, concurrent := r.Dominant([]model.ValueRecord{a})
	assert.False(t, concurrent)
	assert.Equal(t, []byte("a"), winner.Value)
}

func TestStale_DetectsMissingVersions(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	v1 := record("v1", 100, "n1", clock("n1", 1))
	v2 := record("v2", 200, "n1", clock("n1", 2))

	assert.True(t, r.Stale([]model.ValueRecord{v1}, []model.ValueRecord{v2}))
	assert.True(t, r.Stale(nil, []model.ValueRecord{v2}))
	assert.False(t, r.Stale([]model.ValueRecord{v2}, []model.ValueRecord{v2}))
}

func TestReduce_TombstoneParticipatesInFrontier(t *testing.T) {
	r := NewResolver(PolicyVectorClock)

	v1 := record("v1", 100, "n1", clock("n1", 1))
	del := model.ValueRecord{
		Clock:     clock("n1", 2),
		Timestamp: 200,
		Origin:    "n1",
		Tombstone: true,
	}

	frontier := r.Reduce([]model.ValueRecord{v1, del})

	require.Len(t, frontier, 1)
	assert.True(t, frontier[0].Tombstone, "tombstone supersedes the value it dominates")
}
