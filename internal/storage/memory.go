package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/driftdb/driftdb/internal/model"
)

// MemoryEngine is an ordered in-memory engine. It is the default for tests
// and single-process clusters; production nodes use the bbolt engine.
type MemoryEngine struct {
	token TokenFunc

	mu      sync.RWMutex
	entries map[string]memoryEntry // composite -> entry
	index   []string               // sorted composites
}

type memoryEntry struct {
	token   uint64
	key     []byte
	records []model.ValueRecord
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine(token TokenFunc) *MemoryEngine {
	return &MemoryEngine{
		token:   token,
		entries: make(map[string]memoryEntry),
	}
}

// Put replaces the stored frontier for key.
func (m *MemoryEngine) Put(_ context.Context, key []byte, records []model.ValueRecord) error {
	token := m.token(key)
	composite := string(compositeKey(token, key))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[composite]; !exists {
		idx := sort.SearchStrings(m.index, composite)
		m.index = append(m.index, "")
		copy(m.index[idx+1:], m.index[idx:])
		m.index[idx] = composite
	}
	m.entries[composite] = memoryEntry{
		token:   token,
		key:     append([]byte(nil), key...),
		records: cloneRecords(records),
	}
	return nil
}

// Get returns the stored frontier for key, nil when absent.
func (m *MemoryEngine) Get(_ context.Context, key []byte) ([]model.ValueRecord, error) {
	composite := string(compositeKey(m.token(key), key))

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[composite]
	if !ok {
		return nil, nil
	}
	return cloneRecords(entry.records), nil
}

// Purge physically removes key.
func (m *MemoryEngine) Purge(_ context.Context, key []byte) error {
	composite := string(compositeKey(m.token(key), key))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[composite]; !ok {
		return nil
	}
	delete(m.entries, composite)
	idx := sort.SearchStrings(m.index, composite)
	if idx < len(m.index) && m.index[idx] == composite {
		m.index = append(m.index[:idx], m.index[idx+1:]...)
	}
	return nil
}

// ScanRange streams entries in [start, end] token order, restartable via
// the returned position.
func (m *MemoryEngine) ScanRange(_ context.Context, start, end uint64, resume []byte, limit int) ([]KeyRecords, []byte, error) {
	if limit <= 0 {
		limit = 100
	}
	low := string(compositeKey(start, nil))
	if resume != nil {
		low = string(resume)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := sort.SearchStrings(m.index, low)
	if resume != nil && idx < len(m.index) && m.index[idx] == low {
		idx++ // resume is the last composite already returned
	}

	out := make([]KeyRecords, 0, limit)
	var next []byte
	for ; idx < len(m.index); idx++ {
		entry := m.entries[m.index[idx]]
		if entry.token > end {
			break
		}
		if len(out) == limit {
			next = []byte(m.index[idx-1])
			return out, next, nil
		}
		out = append(out, KeyRecords{
			Key:     append([]byte(nil), entry.key...),
			Records: cloneRecords(entry.records),
		})
	}
	return out, nil, nil
}

// Digest hashes every entry in the token range [start, end].
func (m *MemoryEngine) Digest(_ context.Context, start, end uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := newDigest()
	low := string(compositeKey(start, nil))
	idx := sort.SearchStrings(m.index, low)
	for ; idx < len(m.index); idx++ {
		entry := m.entries[m.index[idx]]
		if entry.token > end {
			break
		}
		digestEntry(h, entry.token, entry.key, entry.records)
	}
	return h.Sum(nil), nil
}

// Close is a no-op for the in-memory engine.
func (m *MemoryEngine) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryEngine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneRecords(records []model.ValueRecord) []model.ValueRecord {
	if records == nil {
		return nil
	}
	out := make([]model.ValueRecord, len(records))
	copy(out, records)
	return out
}

var _ Engine = (*MemoryEngine)(nil)
