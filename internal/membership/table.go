// Package membership maintains each node's view of the cluster via gossip
// exchange and a phi-accrual failure detector. The table is per-node
// replicated state: transitions are driven only by local evidence (merged
// gossip, timeouts), never by a consensus round.
package membership

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// Table holds this node's view of all known peers.
type Table struct {
	selfID string
	logger *zap.Logger

	mu       sync.RWMutex
	members  map[string]model.Member
	onChange []func([]model.Member)
}

// NewTable creates a membership table seeded with the local node.
func NewTable(self model.Member, logger *zap.Logger) *Table {
	self.Status = model.StatusActive
	t := &Table{
		selfID:  self.NodeID,
		logger:  logger,
		members: map[string]model.Member{self.NodeID: self},
	}
	return t
}

// OnChange registers a callback invoked with the new view whenever the
// table changes. The ring manager subscribes here.
func (t *Table) OnChange(fn func([]model.Member)) {
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// Snapshot returns the current view sorted by node ID.
func (t *Table) Snapshot() []model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Table) snapshotLocked() []model.Member {
	view := make([]model.Member, 0, len(t.members))
	for _, m := range t.members {
		view = append(view, m)
	}
	sort.Slice(view, func(i, j int) bool { return view[i].NodeID < view[j].NodeID })
	return view
}

// Self returns the local node's entry.
func (t *Table) Self() model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.members[t.selfID]
}

// Member returns the entry for nodeID.
func (t *Table) Member(nodeID string) (model.Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[nodeID]
	return m, ok
}

// Alive reports whether nodeID is currently considered active.
func (t *Table) Alive(nodeID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[nodeID]
	return ok && m.Status == model.StatusActive
}

// Tick advances the local heartbeat counter. Called once per gossip tick.
func (t *Table) Tick() {
	t.mu.Lock()
	self := t.members[t.selfID]
	self.Heartbeat++
	t.members[t.selfID] = self
	t.mu.Unlock()
}

// Merge folds a remote view into the table. For each entry the one with
// the higher (incarnation, heartbeat) wins, which makes the merge
// commutative and idempotent. A rumor that the local node is suspect or
// down is refuted by bumping the local incarnation and re-announcing
// active. Returns the IDs of peers whose heartbeat advanced, so the
// caller can feed the failure detector.
func (t *Table) Merge(remote []model.Member) []string {
	t.mu.Lock()

	var advanced []string
	changed := false
	for _, rm := range remote {
		if rm.NodeID == t.selfID {
			self := t.members[t.selfID]
			if rm.Status != model.StatusActive && rm.Incarnation >= self.Incarnation {
				// Override the stale rumor about ourselves.
				self.Incarnation = rm.Incarnation + 1
				self.Status = model.StatusActive
				t.members[t.selfID] = self
				changed = true
				t.logger.Info("Refuted rumor about self",
					zap.String("rumored_status", string(rm.Status)),
					zap.Uint64("new_incarnation", self.Incarnation))
			}
			continue
		}

		local, known := t.members[rm.NodeID]
		if !known {
			t.members[rm.NodeID] = rm
			advanced = append(advanced, rm.NodeID)
			changed = true
			t.logger.Info("Discovered peer",
				zap.String("node_id", rm.NodeID),
				zap.String("address", rm.Address))
			continue
		}
		if rm.Newer(local) {
			if rm.Heartbeat > local.Heartbeat || rm.Incarnation > local.Incarnation {
				advanced = append(advanced, rm.NodeID)
			}
			if rm.Status != local.Status {
				changed = true
			}
			t.members[rm.NodeID] = rm
		}
	}

	var view []model.Member
	var callbacks []func([]model.Member)
	if changed {
		view = t.snapshotLocked()
		callbacks = append(callbacks, t.onChange...)
	}
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(view)
	}
	return advanced
}

// SetStatus applies a locally observed status transition (failure
// detector verdicts, admin removal). Remote claims go through Merge.
func (t *Table) SetStatus(nodeID string, status model.MemberStatus) {
	t.mu.Lock()
	m, ok := t.members[nodeID]
	if !ok || m.Status == status || nodeID == t.selfID {
		t.mu.Unlock()
		return
	}
	m.Status = status
	t.members[nodeID] = m
	view := t.snapshotLocked()
	callbacks := append([]func([]model.Member){}, t.onChange...)
	t.mu.Unlock()

	t.logger.Info("Peer status changed",
		zap.String("node_id", nodeID),
		zap.String("status", string(status)))
	for _, fn := range callbacks {
		fn(view)
	}
}

// Remove drops a peer from the table (administrative removal).
func (t *Table) Remove(nodeID string) {
	t.mu.Lock()
	if _, ok := t.members[nodeID]; !ok || nodeID == t.selfID {
		t.mu.Unlock()
		return
	}
	delete(t.members, nodeID)
	view := t.snapshotLocked()
	callbacks := append([]func([]model.Member){}, t.onChange...)
	t.mu.Unlock()

	t.logger.Info("Removed peer", zap.String("node_id", nodeID))
	for _, fn := range callbacks {
		fn(view)
	}
}

// Add seeds a peer discovered outside gossip (static seed list, admin).
func (t *Table) Add(member model.Member) {
	t.Merge([]model.Member{member})
}

// MarkLeaving announces the local node's graceful departure.
func (t *Table) MarkLeaving() {
	t.mu.Lock()
	self := t.members[t.selfID]
	self.Status = model.StatusLeaving
	self.Incarnation++
	t.members[t.selfID] = self
	view := t.snapshotLocked()
	callbacks := append([]func([]model.Member){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(view)
	}
}

// ActivePeers returns all active members other than the local node.
func (t *Table) ActivePeers() []model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]model.Member, 0, len(t.members))
	for _, m := range t.members {
		if m.NodeID == t.selfID || m.Status != model.StatusActive {
			continue
		}
		peers = append(peers, m)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeID < peers[j].NodeID })
	return peers
}
