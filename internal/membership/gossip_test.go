package membership

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// meshTransport connects gossipers in-process for deterministic tests.
type meshTransport struct {
	mu    sync.Mutex
	nodes map[string]*Gossiper
	down  map[string]bool
}

func newMeshTransport() *meshTransport {
	return &meshTransport{
		nodes: make(map[string]*Gossiper),
		down:  make(map[string]bool),
	}
}

func (m *meshTransport) register(nodeID string, g *Gossiper) {
	m.mu.Lock()
	m.nodes[nodeID] = g
	m.mu.Unlock()
}

func (m *meshTransport) partition(nodeID string) {
	m.mu.Lock()
	m.down[nodeID] = true
	m.mu.Unlock()
}

func (m *meshTransport) Exchange(_ context.Context, peer model.Member, local []model.Member) ([]model.Member, error) {
	m.mu.Lock()
	g, ok := m.nodes[peer.NodeID]
	down := m.down[peer.NodeID]
	m.mu.Unlock()
	if !ok || down {
		return nil, assert.AnError
	}
	return g.HandleExchange(local), nil
}

func newMeshNode(t *testing.T, id string, mesh *meshTransport) (*Gossiper, *Table) {
	t.Helper()
	table := newTestTable(id)
	detector := NewDetector(DefaultDetectorConfig(), table, zap.NewNop())
	cfg := DefaultGossiperConfig()
	cfg.Fanout = 5
	g := NewGossiper(cfg, table, detector, mesh, zap.NewNop())
	mesh.register(id, g)
	return g, table
}

func TestGossiper_ViewsConvergeThroughIntermediary(t *testing.T) {
	mesh := newMeshTransport()
	g1, t1 := newMeshNode(t, "n1", mesh)
	g2, t2 := newMeshNode(t, "n2", mesh)
	_, t3 := newMeshNode(t, "n3", mesh)

	// n1 knows n2, n2 knows n3; n1 and n3 have never met
	t1.Add(member("n2", model.StatusActive, 0, 0))
	t2.Add(member("n3", model.StatusActive, 0, 0))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		g1.Round(ctx)
		g2.Round(ctx)
	}

	for _, table := range []*Table{t1, t2, t3} {
		require.Len(t, table.Snapshot(), 3,
			"every node learns the full membership transitively")
	}
}

func TestGossiper_RoundTicksHeartbeat(t *testing.T) {
	mesh := newMeshTransport()
	g1, t1 := newMeshNode(t, "n1", mesh)

	before := t1.Self().Heartbeat
	g1.Round(context.Background())
	assert.Equal(t, before+1, t1.Self().Heartbeat)
}

func TestGossiper_UnreachablePeerDoesNotStallRound(t *testing.T) {
	mesh := newMeshTransport()
	g1, t1 := newMeshNode(t, "n1", mesh)
	_, _ = newMeshNode(t, "n2", mesh)
	t1.Add(member("n2", model.StatusActive, 0, 0))
	mesh.partition("n2")

	g1.Round(context.Background())

	// the failed exchange leaves the view intact
	m, ok := t1.Member("n2")
	require.True(t, ok)
	assert.Equal(t, model.StatusActive, m.Status)
}

func TestGossiper_TargetsSkipDownPeers(t *testing.T) {
	mesh := newMeshTransport()
	g1, t1 := newMeshNode(t, "n1", mesh)
	t1.Add(member("n2", model.StatusActive, 0, 0))
	t1.Add(member("n3", model.StatusActive, 0, 0))
	t1.SetStatus("n3", model.StatusDown)

	targets := g1.gossipTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "n2", targets[0].NodeID)
}
