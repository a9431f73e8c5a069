// Package coordinator implements the per-request quorum logic: replica
// fan-out, sloppy quorum with hinted handoff, conflict surfacing, and
// read repair triggering. Any node can coordinate any request.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftdb/driftdb/internal/hints"
	"github.com/driftdb/driftdb/internal/idempotency"
	"github.com/driftdb/driftdb/internal/kverrors"
	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/version"
)

// Coordinator fans client operations out to the replica set and enforces
// the configured quorum.
type Coordinator struct {
	cfg       Config
	nodeID    string
	ring      *ring.Ring
	table     *membership.Table
	replicas  Replicas
	resolver  *version.Resolver
	hintStore hints.Store
	idem      idempotency.Store
	repairs   RepairQueue
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// New wires a coordinator for the local node.
func New(
	cfg Config,
	nodeID string,
	rng *ring.Ring,
	table *membership.Table,
	replicas Replicas,
	resolver *version.Resolver,
	hintStore hints.Store,
	idem idempotency.Store,
	repairs RepairQueue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		nodeID:    nodeID,
		ring:      rng,
		table:     table,
		replicas:  replicas,
		resolver:  resolver,
		hintStore: hintStore,
		idem:      idem,
		repairs:   repairs,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Put writes value under key at quorum W.
func (c *Coordinator) Put(ctx context.Context, key, value []byte, opts WriteOptions) (*WriteResult, error) {
	if err := c.validateKey(key); err != nil {
		return nil, err
	}
	if len(value) > c.cfg.MaxValueBytes {
		return nil, kverrors.ValueTooLarge(len(value), c.cfg.MaxValueBytes)
	}
	return c.write(ctx, "put", key, value, false, opts)
}

// Delete writes a tombstone under key at quorum W. The key stays
// physically present until the tombstone grace period elapses.
func (c *Coordinator) Delete(ctx context.Context, key []byte, opts WriteOptions) (*WriteResult, error) {
	if err := c.validateKey(key); err != nil {
		return nil, err
	}
	return c.write(ctx, "delete", key, nil, true, opts)
}

func (c *Coordinator) write(ctx context.Context, op string, key, value []byte, tombstone bool, opts WriteOptions) (*WriteResult, error) {
	started := c.now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	}()
	c.metrics.RequestsTotal.WithLabelValues(op).Inc()

	if opts.RequestID != "" {
		if cached, err := c.idem.Get(ctx, opts.RequestID); err == nil {
			var result WriteResult
			if err := json.Unmarshal(cached, &result); err == nil {
				c.logger.Debug("Returning cached write outcome",
					zap.String("request_id", opts.RequestID))
				return &result, nil
			}
		} else if !errors.Is(err, idempotency.ErrNotFound) {
			c.logger.Warn("Idempotency lookup failed", zap.Error(err))
		}
	}

	record := model.ValueRecord{
		Value:     value,
		Clock:     version.Increment(opts.Context, c.nodeID, started.UnixMilli(), c.cfg.ClockMaxEntries),
		Timestamp: started.UnixMilli(),
		Origin:    c.nodeID,
		Tombstone: tombstone,
	}

	required := c.cfg.WriteQuorum
	if opts.Quorum > 0 {
		required = opts.Quorum
	}

	result, err := c.quorumWrite(ctx, op, key, record, required)
	if err != nil {
		c.metrics.RequestErrors.WithLabelValues(op, kverrors.GetCode(err).String()).Inc()
		return nil, err
	}

	if opts.RequestID != "" {
		if outcome, merr := json.Marshal(result); merr == nil {
			if serr := c.idem.Set(ctx, opts.RequestID, outcome, c.cfg.IdempotencyTTL); serr != nil {
				c.logger.Warn("Failed to cache write outcome", zap.Error(serr))
			}
		}
	}
	return result, nil
}

// quorumWrite fans the record out to the preference list, substituting a
// healthy fallback plus a hint for each unreachable designated replica.
func (c *Coordinator) quorumWrite(ctx context.Context, op string, key []byte, record model.ValueRecord, required int) (*WriteResult, error) {
	owners := c.ring.OwnersOf(key)
	if len(owners) < required {
		// The ring cannot supply the requested quorum; failing here beats
		// reporting a weaker write as success.
		c.metrics.QuorumFailures.WithLabelValues(op).Inc()
		return nil, kverrors.Unavailable(op, len(owners), required)
	}

	pool := c.fallbackPool(key, owners)
	records := []model.ValueRecord{record}

	var mu sync.Mutex
	acks, hinted := 0, 0

	var g errgroup.Group
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			target := owner
			substituted := false
			if !c.table.Alive(owner) {
				fallback, ok := pool.next()
				if !ok {
					return nil
				}
				target, substituted = fallback, true
			}

			if err := c.writeOne(ctx, target, key, records); err != nil {
				if substituted {
					return nil
				}
				// designated replica failed at call time: sloppy fallback
				fallback, ok := pool.next()
				if !ok {
					return nil
				}
				if err := c.writeOne(ctx, fallback, key, records); err != nil {
					return nil
				}
				target, substituted = fallback, true
			}

			if substituted {
				c.parkHint(owner, key, record)
				c.metrics.SloppyFallbacks.Inc()
				c.logger.Debug("Write redirected to fallback",
					zap.String("designated", owner),
					zap.String("fallback", target),
					zap.ByteString("key", key))
			}

			mu.Lock()
			acks++
			if substituted {
				hinted++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if acks < required {
		c.metrics.QuorumFailures.WithLabelValues(op).Inc()
		if ctx.Err() != nil {
			return nil, kverrors.Timeout(op, ctx.Err())
		}
		return nil, kverrors.Unavailable(op, acks, required)
	}
	return &WriteResult{Record: record, Acks: acks, Hinted: hinted}, nil
}

// Get reads key at quorum R, surfacing concurrent versions and
// triggering asynchronous read repair for stale replicas. A KeyNotFound
// error over a tombstoned key still returns a ReadResult whose Context
// carries the tombstone clocks; supplying it on the next write lets the
// key be re-created.
func (c *Coordinator) Get(ctx context.Context, key []byte, opts ReadOptions) (*ReadResult, error) {
	if err := c.validateKey(key); err != nil {
		return nil, err
	}

	started := c.now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("get").Observe(time.Since(started).Seconds())
	}()
	c.metrics.RequestsTotal.WithLabelValues("get").Inc()

	required := c.cfg.ReadQuorum
	if opts.Quorum > 0 {
		required = opts.Quorum
	}

	result, err := c.quorumRead(ctx, key, required)
	if err != nil {
		c.metrics.RequestErrors.WithLabelValues("get", kverrors.GetCode(err).String()).Inc()
		return result, err
	}
	return result, nil
}

type replicaRead struct {
	nodeID  string
	records []model.ValueRecord
}

func (c *Coordinator) quorumRead(ctx context.Context, key []byte, required int) (*ReadResult, error) {
	owners := c.ring.OwnersOf(key)
	if len(owners) < required {
		c.metrics.QuorumFailures.WithLabelValues("get").Inc()
		return nil, kverrors.Unavailable("get", len(owners), required)
	}

	pool := c.fallbackPool(key, owners)

	var mu sync.Mutex
	var reads []replicaRead

	var g errgroup.Group
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			target := owner
			substituted := false
			if !c.table.Alive(owner) {
				fallback, ok := pool.next()
				if !ok {
					return nil
				}
				target, substituted = fallback, true
			}
			records, err := c.readOne(ctx, target, key)
			if err != nil && !substituted {
				fallback, ok := pool.next()
				if !ok {
					return nil
				}
				target = fallback
				records, err = c.readOne(ctx, target, key)
			}
			if err != nil {
				return nil
			}
			mu.Lock()
			reads = append(reads, replicaRead{nodeID: target, records: records})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(reads) < required {
		c.metrics.QuorumFailures.WithLabelValues("get").Inc()
		if ctx.Err() != nil {
			return nil, kverrors.Timeout("get", ctx.Err())
		}
		return nil, kverrors.Unavailable("get", len(reads), required)
	}

	var all []model.ValueRecord
	for _, r := range reads {
		all = append(all, r.records...)
	}
	merged := c.resolver.Reduce(all)

	c.scheduleRepairs(key, reads, merged)

	live := make([]model.ValueRecord, 0, len(merged))
	clocks := make([]model.VectorClock, 0, len(merged))
	for _, rec := range merged {
		clocks = append(clocks, rec.Clock)
		if !rec.Tombstone {
			live = append(live, rec)
		}
	}
	if len(live) == 0 {
		// The merged context still goes back with the not-found so a
		// re-create write can dominate the tombstone instead of being
		// silently absorbed by it.
		return &ReadResult{
			Context:   version.Merge(clocks...),
			Responses: len(reads),
		}, kverrors.KeyNotFound(string(key))
	}
	if len(live) > 1 {
		c.metrics.ConflictsTotal.Inc()
	}

	return &ReadResult{
		Records:    live,
		Concurrent: len(live) > 1,
		Context:    version.Merge(clocks...),
		Responses:  len(reads),
	}, nil
}

// scheduleRepairs enqueues the merged frontier for every respondent that
// returned a stale or missing view. Repair never blocks the response.
func (c *Coordinator) scheduleRepairs(key []byte, reads []replicaRead, merged []model.ValueRecord) {
	if len(merged) == 0 {
		return
	}
	for _, r := range reads {
		if r.nodeID == "" || !c.resolver.Stale(r.records, merged) {
			continue
		}
		if c.repairs.EnqueueRepair(r.nodeID, key, merged) {
			c.metrics.ReadRepairsTotal.Inc()
			c.logger.Debug("Scheduled read repair",
				zap.String("node_id", r.nodeID),
				zap.ByteString("key", key))
		}
	}
}

func (c *Coordinator) writeOne(ctx context.Context, nodeID string, key []byte, records []model.ValueRecord) error {
	member, ok := c.table.Member(nodeID)
	if !ok {
		return kverrors.InternalError("unknown replica "+nodeID, nil)
	}
	wctx, cancel := context.WithTimeout(ctx, c.cfg.ReplicaTimeout)
	defer cancel()
	return c.replicas.WriteReplica(wctx, member, key, records)
}

func (c *Coordinator) readOne(ctx context.Context, nodeID string, key []byte) ([]model.ValueRecord, error) {
	member, ok := c.table.Member(nodeID)
	if !ok {
		return nil, kverrors.InternalError("unknown replica "+nodeID, nil)
	}
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReplicaTimeout)
	defer cancel()
	return c.replicas.ReadReplica(rctx, member, key)
}

func (c *Coordinator) parkHint(targetNodeID string, key []byte, record model.ValueRecord) {
	hint := &model.Hint{
		HintID:       uuid.New().String(),
		TargetNodeID: targetNodeID,
		Key:          key,
		Record:       record,
		CreatedAt:    c.now(),
	}
	// Parking happens outside the request's context so a client timeout
	// cannot lose the hint.
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReplicaTimeout)
	defer cancel()
	if err := c.hintStore.StoreHint(ctx, hint); err != nil {
		c.logger.Warn("Failed to park hint",
			zap.String("target_node_id", targetNodeID),
			zap.Error(err))
		return
	}
	c.metrics.HintsParked.Inc()
}

// fallbackPool hands out healthy non-designated nodes one at a time.
type fallbackPool struct {
	mu    sync.Mutex
	nodes []string
}

func (p *fallbackPool) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nodes) == 0 {
		return "", false
	}
	node := p.nodes[0]
	p.nodes = p.nodes[1:]
	return node, true
}

func (c *Coordinator) fallbackPool(key []byte, owners []string) *fallbackPool {
	exclude := make(map[string]bool, len(owners))
	for _, owner := range owners {
		exclude[owner] = true
	}
	var healthy []string
	for _, candidate := range c.ring.Fallbacks(key, exclude, len(owners)) {
		if c.table.Alive(candidate) {
			healthy = append(healthy, candidate)
		}
	}
	return &fallbackPool{nodes: healthy}
}

func (c *Coordinator) validateKey(key []byte) error {
	if len(key) == 0 {
		return kverrors.InvalidArgument("key must not be empty", nil)
	}
	if len(key) > c.cfg.MaxKeyBytes {
		return kverrors.KeyTooLarge(len(key), c.cfg.MaxKeyBytes)
	}
	return nil
}
