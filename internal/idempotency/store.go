// Package idempotency caches write outcomes keyed by client-supplied
// request IDs, so a retried write returns the original outcome instead
// of incrementing vector clocks twice.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no outcome is cached for a request ID.
var ErrNotFound = errors.New("idempotency key not found")

// Store caches serialized write outcomes with a TTL.
type Store interface {
	// Get returns the cached outcome for requestID, ErrNotFound when absent.
	Get(ctx context.Context, requestID string) ([]byte, error)

	// Set caches the outcome for requestID.
	Set(ctx context.Context, requestID string, outcome []byte, ttl time.Duration) error

	// Delete removes a cached outcome.
	Delete(ctx context.Context, requestID string) error

	// Close releases the store's resources.
	Close() error
}
