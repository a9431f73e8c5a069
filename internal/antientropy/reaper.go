package antientropy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/storage"
)

// Reader fetches a replica's frontier for one key.
type Reader interface {
	ReadReplica(ctx context.Context, node model.Member, key []byte) ([]model.ValueRecord, error)
}

// ReaperConfig tunes tombstone reaping.
type ReaperConfig struct {
	// GracePeriod is how long a tombstone must persist before it may be
	// physically purged.
	GracePeriod time.Duration
	// Interval is how often a reap pass runs.
	Interval time.Duration
	// BatchSize bounds keys examined per scan page.
	BatchSize int
	// PassTimeout bounds one reap pass.
	PassTimeout time.Duration
}

// DefaultReaperConfig returns the reaper defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		GracePeriod: 24 * time.Hour,
		Interval:    time.Hour,
		BatchSize:   500,
		PassTimeout: 10 * time.Minute,
	}
}

// Reaper physically purges tombstones after the grace period, but only
// once every live replica of the key is seen holding the tombstone.
// Purging earlier would let a late-rejoining replica resurrect the key
// through anti-entropy.
type Reaper struct {
	cfg     ReaperConfig
	replica *storage.Replica
	ring    *ring.Ring
	table   *membership.Table
	reader  Reader
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	stopCh  chan struct{}
	stopped sync.WaitGroup
}

// NewReaper wires the tombstone reaper for the local node.
func NewReaper(
	cfg ReaperConfig,
	replica *storage.Replica,
	rng *ring.Ring,
	table *membership.Table,
	reader Reader,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		cfg:     cfg,
		replica: replica,
		ring:    rng,
		table:   table,
		reader:  reader,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic reap loop.
func (r *Reaper) Start() {
	r.stopped.Add(1)
	go func() {
		defer r.stopped.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PassTimeout)
				r.RunOnce(ctx)
				cancel()
			case <-r.stopCh:
				return
			}
		}
	}()
	r.logger.Info("Tombstone reaper started",
		zap.Duration("grace_period", r.cfg.GracePeriod))
}

// Stop terminates the reap loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
	r.stopped.Wait()
	r.logger.Info("Tombstone reaper stopped")
}

// RunOnce scans the local store and purges every eligible tombstone.
func (r *Reaper) RunOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.cfg.GracePeriod)
	var purged, skipped int

	var resume []byte
	for {
		entries, next, err := r.replica.Engine().ScanRange(ctx, 0, ^uint64(0), resume, r.cfg.BatchSize)
		if err != nil {
			r.logger.Warn("Tombstone scan failed", zap.Error(err))
			return
		}
		for _, entry := range entries {
			if !allTombstonesOlderThan(entry.Records, cutoff) {
				continue
			}
			if !r.propagated(ctx, entry.Key) {
				skipped++
				continue
			}
			ok, err := r.replica.PurgeTombstone(ctx, entry.Key, cutoff)
			if err != nil {
				r.logger.Warn("Tombstone purge failed",
					zap.ByteString("key", entry.Key), zap.Error(err))
				continue
			}
			if ok {
				purged++
				r.metrics.TombstonesPurged.Inc()
			}
		}
		if next == nil {
			break
		}
		resume = next
	}

	if purged > 0 || skipped > 0 {
		r.logger.Info("Tombstone reap pass completed",
			zap.Int("purged", purged),
			zap.Int("awaiting_propagation", skipped))
	}
}

// propagated reports whether every live replica of key holds a frontier
// of nothing but tombstones.
func (r *Reaper) propagated(ctx context.Context, key []byte) bool {
	for _, owner := range r.ring.OwnersOf(key) {
		if owner == r.replica.NodeID() || !r.table.Alive(owner) {
			continue
		}
		member, ok := r.table.Member(owner)
		if !ok {
			return false
		}
		records, err := r.reader.ReadReplica(ctx, member, key)
		if err != nil {
			return false
		}
		for _, rec := range records {
			if !rec.Tombstone {
				return false
			}
		}
	}
	return true
}

func allTombstonesOlderThan(records []model.ValueRecord, cutoff time.Time) bool {
	if len(records) == 0 {
		return false
	}
	cutoffMillis := cutoff.UnixMilli()
	for _, rec := range records {
		if !rec.Tombstone || rec.Timestamp > cutoffMillis {
			return false
		}
	}
	return true
}
