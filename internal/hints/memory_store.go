package hints

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// MemoryStore keeps hints in memory with a per-node cap. When a target
// node's backlog is full the oldest hint is dropped; anti-entropy covers
// whatever hinted handoff loses.
type MemoryStore struct {
	maxPerNode int
	logger     *zap.Logger

	mu     sync.Mutex
	byNode map[string][]*model.Hint
	byID   map[string]*model.Hint
}

// NewMemoryStore creates an in-memory hint store holding at most
// maxPerNode hints per target node.
func NewMemoryStore(maxPerNode int, logger *zap.Logger) *MemoryStore {
	if maxPerNode <= 0 {
		maxPerNode = 1000
	}
	return &MemoryStore{
		maxPerNode: maxPerNode,
		logger:     logger,
		byNode:     make(map[string][]*model.Hint),
		byID:       make(map[string]*model.Hint),
	}
}

// StoreHint parks a hint, evicting the oldest one for the same target
// when the per-node cap is reached.
func (s *MemoryStore) StoreHint(_ context.Context, hint *model.Hint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byNode[hint.TargetNodeID]
	if len(queue) >= s.maxPerNode {
		evicted := queue[0]
		queue = queue[1:]
		delete(s.byID, evicted.HintID)
		s.logger.Warn("Hint backlog full, dropping oldest hint",
			zap.String("target_node_id", hint.TargetNodeID),
			zap.String("dropped_hint_id", evicted.HintID))
	}
	stored := *hint
	s.byNode[hint.TargetNodeID] = append(queue, &stored)
	s.byID[hint.HintID] = &stored
	return nil
}

// HintsFor returns up to limit hints for targetNodeID, oldest first.
func (s *MemoryStore) HintsFor(_ context.Context, targetNodeID string, limit int) ([]*model.Hint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byNode[targetNodeID]
	if limit <= 0 || limit > len(queue) {
		limit = len(queue)
	}
	out := make([]*model.Hint, 0, limit)
	for _, h := range queue[:limit] {
		copied := *h
		out = append(out, &copied)
	}
	return out, nil
}

// DeleteHint removes a hint by ID.
func (s *MemoryStore) DeleteHint(_ context.Context, hintID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hint, ok := s.byID[hintID]
	if !ok {
		return nil
	}
	delete(s.byID, hintID)
	queue := s.byNode[hint.TargetNodeID]
	for i, h := range queue {
		if h.HintID == hintID {
			s.byNode[hint.TargetNodeID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(s.byNode[hint.TargetNodeID]) == 0 {
		delete(s.byNode, hint.TargetNodeID)
	}
	return nil
}

// IncrementReplayCount bumps a hint's failed-replay counter.
func (s *MemoryStore) IncrementReplayCount(_ context.Context, hintID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hint, ok := s.byID[hintID]; ok {
		hint.ReplayCount++
	}
	return nil
}

// CountFor returns the backlog size for targetNodeID.
func (s *MemoryStore) CountFor(_ context.Context, targetNodeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byNode[targetNodeID])), nil
}

// TargetNodes returns the node IDs with parked hints, sorted.
func (s *MemoryStore) TargetNodes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]string, 0, len(s.byNode))
	for nodeID := range s.byNode {
		nodes = append(nodes, nodeID)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// CleanupExpired drops hints created more than ttl ago.
func (s *MemoryStore) CleanupExpired(_ context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for nodeID, queue := range s.byNode {
		kept := queue[:0]
		for _, h := range queue {
			if h.CreatedAt.Before(cutoff) {
				delete(s.byID, h.HintID)
				removed++
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) == 0 {
			delete(s.byNode, nodeID)
		} else {
			s.byNode[nodeID] = kept
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
