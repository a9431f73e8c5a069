package antientropy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/storage"
)

// SyncState tracks where a replica-pair sync session is.
type SyncState string

const (
	SyncComparingRoots     SyncState = "comparing_roots"
	SyncComparingSubranges SyncState = "comparing_subranges"
	SyncStreamingDiff      SyncState = "streaming_diff"
	SyncConverged          SyncState = "converged"
	SyncFailed             SyncState = "failed"
)

// MerklePeer answers Merkle queries against a remote replica.
type MerklePeer interface {
	// RangeDigest returns the peer's digest over one token range.
	RangeDigest(ctx context.Context, node model.Member, r ring.TokenRange) ([]byte, error)
	// PullRange streams the peer's entries in a token range, restartable
	// via the resume key.
	PullRange(ctx context.Context, node model.Member, r ring.TokenRange, resume []byte, limit int) ([]storage.KeyRecords, []byte, error)
}

// SyncerConfig tunes the background Merkle repair job.
type SyncerConfig struct {
	// Interval is how often a sync session is started.
	Interval time.Duration
	// TreeDepth bounds the Merkle tree (2^depth leaves per owned range).
	TreeDepth int
	// PullBatch is the page size for streaming divergent ranges.
	PullBatch int
	// SessionTimeout bounds one full sync session.
	SessionTimeout time.Duration
}

// DefaultSyncerConfig returns the Merkle sync defaults.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Interval:       5 * time.Minute,
		TreeDepth:      10,
		PullBatch:      200,
		SessionTimeout: 2 * time.Minute,
	}
}

// Syncer periodically picks one owned token range and one peer replica,
// compares Merkle trees, and pulls only the divergent ranges. Pulled
// entries go through the replica's normal merge path, so a sync can only
// add missing versions, never clobber newer ones.
type Syncer struct {
	cfg     SyncerConfig
	replica *storage.Replica
	ring    *ring.Ring
	table   *membership.Table
	peer    MerklePeer
	metrics *metrics.Metrics
	logger  *zap.Logger

	stopCh  chan struct{}
	stopped sync.WaitGroup
}

// NewSyncer wires the background Merkle repair job for the local node.
func NewSyncer(
	cfg SyncerConfig,
	replica *storage.Replica,
	rng *ring.Ring,
	table *membership.Table,
	peer MerklePeer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		cfg:     cfg,
		replica: replica,
		ring:    rng,
		table:   table,
		peer:    peer,
		metrics: m,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic sync loop.
func (s *Syncer) Start() {
	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SessionTimeout)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("Merkle syncer started", zap.Duration("interval", s.cfg.Interval))
}

// Stop terminates the sync loop and waits for it to exit.
func (s *Syncer) Stop() {
	close(s.stopCh)
	s.stopped.Wait()
	s.logger.Info("Merkle syncer stopped")
}

// RunOnce syncs one random owned range against one random peer replica.
func (s *Syncer) RunOnce(ctx context.Context) {
	ranges := s.ring.OwnedRanges(s.replica.NodeID())
	if len(ranges) == 0 {
		return
	}
	r := ranges[rand.Intn(len(ranges))]

	peer, ok := s.pickPeer(r)
	if !ok {
		return
	}

	state, err := s.SyncRange(ctx, peer, r)
	if err != nil {
		s.metrics.MerkleSyncsTotal.WithLabelValues(string(SyncFailed)).Inc()
		s.logger.Warn("Merkle sync failed",
			zap.String("peer", peer.NodeID),
			zap.Uint64("range_start", r.Start),
			zap.Uint64("range_end", r.End),
			zap.String("state", string(state)),
			zap.Error(err))
		return
	}
	s.metrics.MerkleSyncsTotal.WithLabelValues(string(SyncConverged)).Inc()
}

// pickPeer selects a random alive replica that also owns tokens in r.
func (s *Syncer) pickPeer(r ring.TokenRange) (model.Member, bool) {
	owners := s.ring.OwnersOfToken(r.Start)
	var candidates []model.Member
	for _, nodeID := range owners {
		if nodeID == s.replica.NodeID() || !s.table.Alive(nodeID) {
			continue
		}
		if m, ok := s.table.Member(nodeID); ok {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return model.Member{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// SyncRange runs one sync session for r against peer and returns the
// final session state.
func (s *Syncer) SyncRange(ctx context.Context, peer model.Member, r ring.TokenRange) (SyncState, error) {
	state := SyncComparingRoots

	tree, err := BuildTree(ctx, s.replica.Engine(), r, s.cfg.TreeDepth)
	if err != nil {
		return SyncFailed, err
	}

	visited := 0
	diffs, err := DiffRanges(ctx, tree, func(ctx context.Context, sub ring.TokenRange) ([]byte, error) {
		visited++
		if visited > 1 {
			state = SyncComparingSubranges
		}
		return s.peer.RangeDigest(ctx, peer, sub)
	})
	if err != nil {
		return state, err
	}
	if len(diffs) == 0 {
		return SyncConverged, nil
	}

	state = SyncStreamingDiff
	var pulled int
	for _, diff := range diffs {
		n, err := s.streamRange(ctx, peer, diff)
		if err != nil {
			return state, err
		}
		pulled += n
	}

	s.logger.Info("Merkle sync converged",
		zap.String("peer", peer.NodeID),
		zap.Uint64("range_start", r.Start),
		zap.Uint64("range_end", r.End),
		zap.Int("divergent_ranges", len(diffs)),
		zap.Int("entries_pulled", pulled))
	return SyncConverged, nil
}

// streamRange pulls one divergent range from peer and merges it locally.
func (s *Syncer) streamRange(ctx context.Context, peer model.Member, r ring.TokenRange) (int, error) {
	var resume []byte
	pulled := 0
	for {
		entries, next, err := s.peer.PullRange(ctx, peer, r, resume, s.cfg.PullBatch)
		if err != nil {
			return pulled, err
		}
		for _, entry := range entries {
			if err := s.replica.Apply(ctx, entry.Key, entry.Records); err != nil {
				return pulled, err
			}
			pulled++
		}
		if next == nil {
			return pulled, nil
		}
		resume = next
	}
}
