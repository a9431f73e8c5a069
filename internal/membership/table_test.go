package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

func member(id string, status model.MemberStatus, incarnation, heartbeat uint64) model.Member {
	return model.Member{
		NodeID:      id,
		Address:     id + ":7070",
		Status:      status,
		Incarnation: incarnation,
		Heartbeat:   heartbeat,
	}
}

func newTestTable(id string) *Table {
	return NewTable(member(id, model.StatusActive, 0, 0), zap.NewNop())
}

func TestTable_MergeDiscoversPeers(t *testing.T) {
	table := newTestTable("n1")

	advanced := table.Merge([]model.Member{
		member("n2", model.StatusActive, 0, 5),
		member("n3", model.StatusActive, 0, 3),
	})

	assert.ElementsMatch(t, []string{"n2", "n3"}, advanced)
	assert.Len(t, table.Snapshot(), 3)
}

func TestTable_MergeHigherHeartbeatWins(t *testing.T) {
	table := newTestTable("n1")
	table.Merge([]model.Member{member("n2", model.StatusActive, 0, 5)})

	// stale heartbeat is ignored
	advanced := table.Merge([]model.Member{member("n2", model.StatusActive, 0, 3)})
	assert.Empty(t, advanced)
	m, _ := table.Member("n2")
	assert.Equal(t, uint64(5), m.Heartbeat)

	// newer heartbeat advances
	advanced = table.Merge([]model.Member{member("n2", model.StatusActive, 0, 9)})
	assert.Equal(t, []string{"n2"}, advanced)
	m, _ = table.Member("n2")
	assert.Equal(t, uint64(9), m.Heartbeat)
}

func TestTable_MergeIncarnationOverridesHeartbeat(t *testing.T) {
	table := newTestTable("n1")
	table.Merge([]model.Member{member("n2", model.StatusDown, 0, 100)})

	// a restarted node announces a higher incarnation with a reset heartbeat
	table.Merge([]model.Member{member("n2", model.StatusActive, 1, 1)})

	m, _ := table.Member("n2")
	assert.Equal(t, model.StatusActive, m.Status)
	assert.Equal(t, uint64(1), m.Incarnation)
	assert.Equal(t, uint64(1), m.Heartbeat)
}

func TestTable_MergeCommutativeAndIdempotent(t *testing.T) {
	updates := []model.Member{
		member("n2", model.StatusActive, 0, 5),
		member("n2", model.StatusSuspect, 0, 9),
		member("n2", model.StatusActive, 1, 2),
	}

	forward := newTestTable("n1")
	for _, u := range updates {
		forward.Merge([]model.Member{u})
		forward.Merge([]model.Member{u}) // replay must not change the outcome
	}

	backward := newTestTable("n1")
	for i := len(updates) - 1; i >= 0; i-- {
		backward.Merge([]model.Member{updates[i]})
	}

	fm, _ := forward.Member("n2")
	bm, _ := backward.Member("n2")
	assert.Equal(t, fm, bm)
}

func TestTable_RefutesRumorAboutSelf(t *testing.T) {
	table := newTestTable("n1")
	before := table.Self().Incarnation

	table.Merge([]model.Member{member("n1", model.StatusDown, before, 50)})

	self := table.Self()
	assert.Equal(t, model.StatusActive, self.Status)
	assert.Greater(t, self.Incarnation, before, "refutation must bump the incarnation")
}

func TestTable_SelfRumorWithLowerIncarnationIgnored(t *testing.T) {
	table := newTestTable("n1")
	table.MarkLeaving() // incarnation now 1
	before := table.Self()

	table.Merge([]model.Member{member("n1", model.StatusDown, 0, 50)})

	assert.Equal(t, before, table.Self())
}

func TestTable_OnChangeFiresOnStatusTransition(t *testing.T) {
	table := newTestTable("n1")
	table.Merge([]model.Member{member("n2", model.StatusActive, 0, 1)})

	var views [][]model.Member
	table.OnChange(func(view []model.Member) {
		views = append(views, view)
	})

	table.SetStatus("n2", model.StatusSuspect)
	table.SetStatus("n2", model.StatusSuspect) // no-op, no second callback

	require.Len(t, views, 1)
	var got model.MemberStatus
	for _, m := range views[0] {
		if m.NodeID == "n2" {
			got = m.Status
		}
	}
	assert.Equal(t, model.StatusSuspect, got)
}

func TestTable_ActivePeersExcludesSelfAndNonActive(t *testing.T) {
	table := newTestTable("n1")
	table.Merge([]model.Member{
		member("n2", model.StatusActive, 0, 1),
		member("n3", model.StatusDown, 0, 1),
		member("n4", model.StatusActive, 0, 1),
	})

	peers := table.ActivePeers()
	require.Len(t, peers, 2)
	assert.Equal(t, "n2", peers[0].NodeID)
	assert.Equal(t, "n4", peers[1].NodeID)
}
