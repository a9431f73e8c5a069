// Package storage defines the contract the replication core expects from
// the per-node durable store, plus two engines that satisfy it. The engine
// is an external collaborator: anything exposing these operations (an
// LSM-tree, a B-tree, ...) can sit behind the interface.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/driftdb/driftdb/internal/model"
)

// KeyRecords pairs a key with the sibling frontier stored for it.
type KeyRecords struct {
	Key     []byte              `json:"key"`
	Records []model.ValueRecord `json:"records"`
}

// Engine is the per-node ordered key-value persistence contract. Entries
// are ordered by (token, key) so token ranges can be scanned and digested
// for Merkle comparison. Delete is expressed as a tombstone record written
// through Put; Purge is the physical removal performed only after the
// tombstone grace period.
type Engine interface {
	// Put replaces the stored frontier for key.
	Put(ctx context.Context, key []byte, records []model.ValueRecord) error
	// Get returns the stored frontier for key, nil when absent.
	Get(ctx context.Context, key []byte) ([]model.ValueRecord, error)
	// Purge physically removes key and its records.
	Purge(ctx context.Context, key []byte) error
	// ScanRange streams entries whose token falls in [start, end] in
	// (token, key) order. resume is an opaque position returned by a
	// previous call; nil starts from the beginning of the range. A nil
	// next position means the range is exhausted.
	ScanRange(ctx context.Context, start, end uint64, resume []byte, limit int) (entries []KeyRecords, next []byte, err error)
	// Digest returns a hash of every entry in the token range [start, end].
	Digest(ctx context.Context, start, end uint64) ([]byte, error)
	Close() error
}

// TokenFunc hashes a key into the ring token space. Engines take it as a
// parameter so they stay independent of the ring package.
type TokenFunc func(key []byte) uint64

// compositeKey orders entries by (token, key).
func compositeKey(token uint64, key []byte) []byte {
	buf := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(buf, token)
	copy(buf[8:], key)
	return buf
}

// digestEntry folds one entry into a range digest. Both engines use it so
// their digests agree for identical contents.
func digestEntry(h hash.Hash, token uint64, key []byte, records []model.ValueRecord) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], token)
	h.Write(buf[:])
	h.Write(key)
	for _, rec := range records {
		binary.BigEndian.PutUint64(buf[:], uint64(rec.Timestamp))
		h.Write(buf[:])
		h.Write([]byte(rec.Origin))
		if rec.Tombstone {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		for _, e := range rec.Clock.Entries {
			h.Write([]byte(e.NodeID))
			binary.BigEndian.PutUint64(buf[:], uint64(e.Counter))
			h.Write(buf[:])
		}
		h.Write(rec.Value)
	}
}

func newDigest() hash.Hash {
	return sha256.New()
}
