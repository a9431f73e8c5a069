package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/kverrors"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/version"
)

// Replica is the local write handler for one node's copy of the data.
// Every mutation of this node's records goes through Apply, so the copy
// has a single writer; cross-replica agreement comes from quorum counting
// and anti-entropy, never from locks held across nodes.
type Replica struct {
	nodeID   string
	engine   Engine
	resolver *version.Resolver
	logger   *zap.Logger

	// serializes read-modify-write cycles against the engine
	mu sync.Mutex
}

// NewReplica creates the local write handler for nodeID.
func NewReplica(nodeID string, engine Engine, resolver *version.Resolver, logger *zap.Logger) *Replica {
	return &Replica{
		nodeID:   nodeID,
		engine:   engine,
		resolver: resolver,
		logger:   logger,
	}
}

// Apply merges incoming record versions with the resident frontier and
// persists the result. Applying the same version twice is a no-op.
func (r *Replica) Apply(ctx context.Context, key []byte, incoming []model.ValueRecord) error {
	if len(incoming) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	resident, err := r.engine.Get(ctx, key)
	if err != nil {
		return kverrors.StorageFailed("failed to read resident frontier", err)
	}

	merged := r.resolver.Reduce(append(resident, incoming...))
	if err := r.engine.Put(ctx, key, merged); err != nil {
		return kverrors.StorageFailed("failed to persist merged frontier", err)
	}

	r.logger.Debug("Applied record versions",
		zap.String("node_id", r.nodeID),
		zap.ByteString("key", key),
		zap.Int("incoming", len(incoming)),
		zap.Int("frontier", len(merged)))
	return nil
}

// Read returns the resident frontier for key, nil when absent.
func (r *Replica) Read(ctx context.Context, key []byte) ([]model.ValueRecord, error) {
	records, err := r.engine.Get(ctx, key)
	if err != nil {
		return nil, kverrors.StorageFailed("failed to read frontier", err)
	}
	return records, nil
}

// PurgeTombstone physically removes key if its entire frontier is
// tombstones older than cutoff. Returns true when the key was purged.
// Callers verify tombstone propagation across live replicas first.
func (r *Replica) PurgeTombstone(ctx context.Context, key []byte, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.engine.Get(ctx, key)
	if err != nil {
		return false, kverrors.StorageFailed("failed to read frontier", err)
	}
	if len(records) == 0 {
		return false, nil
	}
	cutoffMillis := cutoff.UnixMilli()
	for _, rec := range records {
		if !rec.Tombstone || rec.Timestamp > cutoffMillis {
			return false, nil
		}
	}
	if err := r.engine.Purge(ctx, key); err != nil {
		return false, kverrors.StorageFailed("failed to purge tombstone", err)
	}
	r.logger.Debug("Purged tombstone",
		zap.String("node_id", r.nodeID),
		zap.ByteString("key", key))
	return true, nil
}

// NodeID returns the owning node's identifier.
func (r *Replica) NodeID() string {
	return r.nodeID
}

// Engine exposes the underlying engine for anti-entropy scans.
func (r *Replica) Engine() Engine {
	return r.engine
}
