package coordinator

import (
	"context"
	"time"

	"github.com/driftdb/driftdb/internal/model"
)

// Replicas is the transport used to reach replica nodes. The local node
// is short-circuited to its own storage by the implementation.
type Replicas interface {
	WriteReplica(ctx context.Context, node model.Member, key []byte, records []model.ValueRecord) error
	ReadReplica(ctx context.Context, node model.Member, key []byte) ([]model.ValueRecord, error)
}

// RepairQueue accepts asynchronous read repair tasks. Enqueue must never
// block the read path; a full queue drops the task.
type RepairQueue interface {
	EnqueueRepair(nodeID string, key []byte, records []model.ValueRecord) bool
}

// Config tunes the quorum coordinator.
type Config struct {
	// ReadQuorum and WriteQuorum are the default R and W.
	ReadQuorum  int
	WriteQuorum int
	// ReplicaTimeout bounds one replica sub-request.
	ReplicaTimeout time.Duration
	// MaxKeyBytes and MaxValueBytes reject oversized requests up front.
	MaxKeyBytes   int
	MaxValueBytes int
	// ClockMaxEntries bounds vector clock growth (oldest entries dropped).
	ClockMaxEntries int
	// IdempotencyTTL is how long cached write outcomes are kept.
	IdempotencyTTL time.Duration
}

// DefaultConfig returns coordinator defaults for a replication factor of 3.
func DefaultConfig() Config {
	return Config{
		ReadQuorum:      2,
		WriteQuorum:     2,
		ReplicaTimeout:  2 * time.Second,
		MaxKeyBytes:     512,
		MaxValueBytes:   1 << 20,
		ClockMaxEntries: 16,
		IdempotencyTTL:  10 * time.Minute,
	}
}

// WriteOptions carries per-request write parameters.
type WriteOptions struct {
	// Quorum overrides the default W when positive.
	Quorum int
	// Context is the client-supplied causal context from a prior read.
	Context model.VectorClock
	// RequestID deduplicates client retries when non-empty.
	RequestID string
}

// WriteResult is the outcome of a quorum write.
type WriteResult struct {
	// Record is the accepted version, tag included, for the client's
	// next causal context.
	Record model.ValueRecord `json:"record"`
	// Acks is how many replicas acknowledged before the result was
	// returned.
	Acks int `json:"acks"`
	// Hinted is how many designated replicas were substituted by a
	// fallback carrying a hint.
	Hinted int `json:"hinted"`
}

// ReadOptions carries per-request read parameters.
type ReadOptions struct {
	// Quorum overrides the default R when positive.
	Quorum int
}

// ReadResult is the outcome of a quorum read.
type ReadResult struct {
	// Records is the frontier of live versions. More than one entry
	// means concurrent writes that the caller must reconcile.
	Records []model.ValueRecord `json:"records"`
	// Concurrent reports whether the frontier holds siblings.
	Concurrent bool `json:"concurrent"`
	// Context is the merged causal context to supply on the next write.
	Context model.VectorClock `json:"context"`
	// Responses is how many replicas answered.
	Responses int `json:"responses"`
}
