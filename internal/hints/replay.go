package hints

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
)

// ReplicaWriter delivers a parked write to its rightful replica.
type ReplicaWriter interface {
	WriteReplica(ctx context.Context, nodeID string, key []byte, records []model.ValueRecord) error
}

// Liveness answers whether a node is currently reachable per membership.
type Liveness interface {
	Alive(nodeID string) bool
}

// ReplayerConfig tunes the hint replay loop.
type ReplayerConfig struct {
	// Interval is how often the replayer checks for replayable backlogs.
	Interval time.Duration
	// BatchSize bounds how many hints are fetched per target per pass.
	BatchSize int
	// MaxReplays is the failed-attempt limit before a hint is dropped.
	MaxReplays int
	// HintTTL is the parked-hint expiry; anti-entropy covers older losses.
	HintTTL time.Duration
	// RateLimit caps replayed hints per second so a recovering node is
	// not flooded the moment it comes back.
	RateLimit rate.Limit
	// RateBurst is the limiter's burst size.
	RateBurst int
}

// DefaultReplayerConfig returns the replay defaults.
func DefaultReplayerConfig() ReplayerConfig {
	return ReplayerConfig{
		Interval:   5 * time.Second,
		BatchSize:  100,
		MaxReplays: 3,
		HintTTL:    3 * time.Hour,
		RateLimit:  rate.Limit(200),
		RateBurst:  50,
	}
}

// Replayer drains parked hints to their target nodes once those nodes
// are seen alive again.
type Replayer struct {
	cfg      ReplayerConfig
	store    Store
	writer   ReplicaWriter
	liveness Liveness
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger

	stopCh  chan struct{}
	stopped sync.WaitGroup
}

// NewReplayer wires a replayer over store, writer and liveness.
func NewReplayer(cfg ReplayerConfig, store Store, writer ReplicaWriter, liveness Liveness, m *metrics.Metrics, logger *zap.Logger) *Replayer {
	return &Replayer{
		cfg:      cfg,
		store:    store,
		writer:   writer,
		liveness: liveness,
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic replay loop.
func (r *Replayer) Start() {
	r.stopped.Add(1)
	go func() {
		defer r.stopped.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
				r.RunOnce(ctx)
				cancel()
			case <-r.stopCh:
				return
			}
		}
	}()
	r.logger.Info("Hint replayer started", zap.Duration("interval", r.cfg.Interval))
}

// Stop terminates the replay loop and waits for it to exit.
func (r *Replayer) Stop() {
	close(r.stopCh)
	r.stopped.Wait()
	r.logger.Info("Hint replayer stopped")
}

// RunOnce performs one replay pass: expire old hints, then drain one
// batch per alive target node. Exposed for deterministic tests.
func (r *Replayer) RunOnce(ctx context.Context) {
	if removed, err := r.store.CleanupExpired(ctx, r.cfg.HintTTL); err != nil {
		r.logger.Warn("Hint cleanup failed", zap.Error(err))
	} else if removed > 0 {
		r.logger.Info("Expired parked hints", zap.Int64("removed", removed))
	}

	targets, err := r.store.TargetNodes(ctx)
	if err != nil {
		r.logger.Warn("Failed to list hint targets", zap.Error(err))
		return
	}

	for _, nodeID := range targets {
		if !r.liveness.Alive(nodeID) {
			continue
		}
		if err := r.ReplayForNode(ctx, nodeID); err != nil {
			r.logger.Warn("Hint replay pass failed",
				zap.String("target_node_id", nodeID),
				zap.Error(err))
		}
	}
}

// ReplayForNode drains one batch of parked hints to nodeID.
func (r *Replayer) ReplayForNode(ctx context.Context, nodeID string) error {
	hints, err := r.store.HintsFor(ctx, nodeID, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(hints) == 0 {
		return nil
	}

	var replayed, failed int
	for _, hint := range hints {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		err := r.writer.WriteReplica(ctx, nodeID, hint.Key, []model.ValueRecord{hint.Record})
		if err != nil {
			failed++
			if hint.ReplayCount+1 >= r.cfg.MaxReplays {
				r.logger.Warn("Hint exceeded max replays, dropping",
					zap.String("hint_id", hint.HintID),
					zap.String("target_node_id", nodeID),
					zap.Int("replay_count", hint.ReplayCount+1))
				if err := r.store.DeleteHint(ctx, hint.HintID); err != nil {
					r.logger.Warn("Failed to drop exhausted hint",
						zap.String("hint_id", hint.HintID), zap.Error(err))
				}
				continue
			}
			if err := r.store.IncrementReplayCount(ctx, hint.HintID); err != nil {
				r.logger.Warn("Failed to record replay attempt",
					zap.String("hint_id", hint.HintID), zap.Error(err))
			}
			continue
		}

		// Replay and delete are not atomic: a crash between them replays
		// the hint again, which Apply absorbs idempotently.
		if err := r.store.DeleteHint(ctx, hint.HintID); err != nil {
			r.logger.Warn("Failed to delete replayed hint",
				zap.String("hint_id", hint.HintID), zap.Error(err))
		}
		replayed++
	}

	if replayed > 0 {
		r.metrics.HintsReplayed.Add(float64(replayed))
	}
	r.logger.Info("Replayed parked hints",
		zap.String("target_node_id", nodeID),
		zap.Int("replayed", replayed),
		zap.Int("failed", failed))
	return nil
}
