// Package hints implements hinted handoff: writes accepted on behalf of
// an unreachable replica are parked as hints and replayed when the
// replica comes back.
package hints

import (
	"context"
	"time"

	"github.com/driftdb/driftdb/internal/model"
)

// Store persists hints held for unreachable replicas.
type Store interface {
	// StoreHint parks a hint for its target node.
	StoreHint(ctx context.Context, hint *model.Hint) error

	// HintsFor returns up to limit hints for targetNodeID, oldest first.
	HintsFor(ctx context.Context, targetNodeID string, limit int) ([]*model.Hint, error)

	// DeleteHint removes a hint after successful replay or on give-up.
	DeleteHint(ctx context.Context, hintID string) error

	// IncrementReplayCount bumps a hint's failed-replay counter.
	IncrementReplayCount(ctx context.Context, hintID string) error

	// CountFor returns the number of parked hints for targetNodeID.
	CountFor(ctx context.Context, targetNodeID string) (int64, error)

	// TargetNodes returns the node IDs that currently have parked hints.
	TargetNodes(ctx context.Context) ([]string, error)

	// CleanupExpired drops hints older than ttl and returns the count.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)
}
