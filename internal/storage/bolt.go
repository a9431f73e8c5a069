package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/driftdb/driftdb/internal/model"
)

var recordsBucket = []byte("records")

// BoltEngine persists records in a bbolt file. Keys are stored under their
// (token, key) composite so token-range scans map to cursor seeks.
type BoltEngine struct {
	db    *bolt.DB
	token TokenFunc
}

// NewBoltEngine opens (or creates) the bbolt file at path.
func NewBoltEngine(path string, token TokenFunc) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records bucket: %w", err)
	}
	return &BoltEngine{db: db, token: token}, nil
}

// Put replaces the stored frontier for key.
func (b *BoltEngine) Put(_ context.Context, key []byte, records []model.ValueRecord) error {
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	composite := compositeKey(b.token(key), key)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(composite, value)
	})
}

// Get returns the stored frontier for key, nil when absent.
func (b *BoltEngine) Get(_ context.Context, key []byte) ([]model.ValueRecord, error) {
	composite := compositeKey(b.token(key), key)
	var records []model.ValueRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(recordsBucket).Get(composite)
		if value == nil {
			return nil
		}
		return json.Unmarshal(value, &records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Purge physically removes key.
func (b *BoltEngine) Purge(_ context.Context, key []byte) error {
	composite := compositeKey(b.token(key), key)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete(composite)
	})
}

// ScanRange streams entries in [start, end] token order.
func (b *BoltEngine) ScanRange(_ context.Context, start, end uint64, resume []byte, limit int) ([]KeyRecords, []byte, error) {
	if limit <= 0 {
		limit = 100
	}
	low := compositeKey(start, nil)
	if resume != nil {
		low = resume
	}

	out := make([]KeyRecords, 0, limit)
	var next []byte
	var lastK []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		k, v := c.Seek(low)
		if resume != nil && k != nil && bytes.Equal(k, low) {
			k, v = c.Next() // resume is the last composite already returned
		}
		for ; k != nil; k, v = c.Next() {
			if tokenOf(k) > end {
				break
			}
			if len(out) == limit {
				next = append([]byte(nil), lastK...)
				return nil
			}
			var records []model.ValueRecord
			if err := json.Unmarshal(v, &records); err != nil {
				return fmt.Errorf("failed to decode records for %x: %w", k, err)
			}
			out = append(out, KeyRecords{
				Key:     append([]byte(nil), k[8:]...),
				Records: records,
			})
			lastK = k
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, next, nil
}

// Digest hashes every entry in the token range [start, end].
func (b *BoltEngine) Digest(_ context.Context, start, end uint64) ([]byte, error) {
	h := newDigest()
	low := compositeKey(start, nil)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.Seek(low); k != nil; k, v = c.Next() {
			token := tokenOf(k)
			if token > end {
				break
			}
			var records []model.ValueRecord
			if err := json.Unmarshal(v, &records); err != nil {
				return fmt.Errorf("failed to decode records for %x: %w", k, err)
			}
			digestEntry(h, token, k[8:], records)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Close releases the underlying bbolt file.
func (b *BoltEngine) Close() error {
	return b.db.Close()
}

func tokenOf(composite []byte) uint64 {
	return binary.BigEndian.Uint64(composite[:8])
}

var _ Engine = (*BoltEngine)(nil)
