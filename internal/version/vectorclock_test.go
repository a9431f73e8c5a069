package version

import (
	"testing"

	"github.com/driftdb/driftdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(pairs ...interface{}) model.VectorClock {
	vc := model.VectorClock{}
	for i := 0; i < len(pairs); i += 2 {
		vc.Entries = append(vc.Entries, model.VectorClockEntry{
			NodeID:  pairs[i].(string),
			Counter: int64(pairs[i+1].(int)),
		})
	}
	return vc
}

func TestCompare_Dominance(t *testing.T) {
	a := clock("n1", 2, "n2", 1)
	b := clock("n1", 1, "n2", 1)

	assert.Equal(t, model.After, Compare(a, b))
	assert.Equal(t, model.Before, Compare(b, a))
}

func TestCompare_Equal(t *testing.T) {
	a := clock("n1", 3, "n2", 1)
	b := clock("n2", 1, "n1", 3)

	assert.Equal(t, model.Equal, Compare(a, b))
}

func TestCompare_Concurrent(t *testing.T) {
	a := clock("n1", 2, "n2", 1)
	b := clock("n1", 1, "n2", 2)

	assert.Equal(t, model.Concurrent, Compare(a, b))
}

func TestCompare_MissingEntriesCountAsZero(t *testing.T) {
	a := clock("n1", 1)
	b := clock("n1", 1, "n2", 1)

	assert.Equal(t, model.Before, Compare(a, b))
}

func TestMerge_PointwiseMax(t *testing.T) {
	a := clock("n1", 2, "n2", 1)
	b := clock("n1", 1, "n2", 3, "n3", 1)

	merged := Merge(a, b)

	assert.Equal(t, int64(2), merged.Counter("n1"))
	assert.Equal(t, int64(3), merged.Counter("n2"))
	assert.Equal(t, int64(1), merged.Counter("n3"))
}

func TestIncrement_BumpsCoordinatorCounter(t *testing.T) {
	ctx := clock("n1", 1)

	vc := Increment(ctx, "n2", 100, 16)

	assert.Equal(t, int64(1), vc.Counter("n1"))
	assert.Equal(t, int64(1), vc.Counter("n2"))
	assert.Equal(t, model.After, Compare(vc, ctx))

	vc2 := Increment(vc, "n2", 101, 16)
	assert.Equal(t, int64(2), vc2.Counter("n2"))
	assert.Equal(t, model.After, Compare(vc2, vc))
}

func TestTruncate_DropsOldestEntries(t *testing.T) {
	vc := model.VectorClock{Entries: []model.VectorClockEntry{
		{NodeID: "n1", Counter: 5, UpdatedAt: 10},
		{NodeID: "n2", Counter: 1, UpdatedAt: 30},
		{NodeID: "n3", Counter: 2, UpdatedAt: 20},
	}}

	truncated := Truncate(vc, 2)

	require.Len(t, truncated.Entries, 2)
	assert.Equal(t, int64(0), truncated.Counter("n1"), "oldest entry dropped")
	assert.Equal(t, int64(1), truncated.Counter("n2"))
	assert.Equal(t, int64(2), truncated.Counter("n3"))
}

func TestTruncate_CausesConcurrentNeverDominance(t *testing.T) {
	// full dominates ctx; after truncation the relation may degrade to
	// concurrent but must never invert.
	ctxClock := clock("n1", 4)
	full := model.VectorClock{Entries: []model.VectorClockEntry{
		{NodeID: "n1", Counter: 4, UpdatedAt: 1},
		{NodeID: "n2", Counter: 1, UpdatedAt: 50},
		{NodeID: "n3", Counter: 1, UpdatedAt: 60},
	}}

	truncated := Truncate(full, 2)

	cmp := Compare(truncated, ctxClock)
	assert.NotEqual(t, model.Before, cmp)
	assert.Contains(t, []model.Comparison{model.After, model.Concurrent}, cmp)
}

func TestTruncate_NoopBelowBound(t *testing.T) {
	vc := clock("n1", 1, "n2", 2)
	assert.Equal(t, vc.Entries, Truncate(vc, 16).Entries)
}
