package membership

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/model"
)

// Transport carries one gossip exchange: send the local view to a peer
// and receive the peer's view back.
type Transport interface {
	Exchange(ctx context.Context, peer model.Member, local []model.Member) ([]model.Member, error)
}

// GossiperConfig tunes the gossip loop.
type GossiperConfig struct {
	// Interval is the gossip tick period.
	Interval time.Duration
	// Fanout is how many random peers each tick gossips with.
	Fanout int
	// ExchangeTimeout bounds one round-trip with a peer.
	ExchangeTimeout time.Duration
}

// DefaultGossiperConfig returns the gossip defaults.
func DefaultGossiperConfig() GossiperConfig {
	return GossiperConfig{
		Interval:        1 * time.Second,
		Fanout:          3,
		ExchangeTimeout: 2 * time.Second,
	}
}

// Gossiper runs the periodic gossip loop: tick the local heartbeat,
// exchange views with a few random peers, feed heartbeat progress to the
// failure detector, and evaluate suspicion levels.
type Gossiper struct {
	cfg       GossiperConfig
	table     *Table
	detector  *Detector
	transport Transport
	logger    *zap.Logger

	stopCh  chan struct{}
	stopped sync.WaitGroup
}

// NewGossiper wires a gossiper over table, detector and transport.
func NewGossiper(cfg GossiperConfig, table *Table, detector *Detector, transport Transport, logger *zap.Logger) *Gossiper {
	return &Gossiper{
		cfg:       cfg,
		table:     table,
		detector:  detector,
		transport: transport,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the gossip loop in the background.
func (g *Gossiper) Start() {
	g.stopped.Add(1)
	go func() {
		defer g.stopped.Done()
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Round(context.Background())
			case <-g.stopCh:
				return
			}
		}
	}()
	g.logger.Info("Gossip loop started",
		zap.Duration("interval", g.cfg.Interval),
		zap.Int("fanout", g.cfg.Fanout))
}

// Stop terminates the gossip loop and waits for it to exit.
func (g *Gossiper) Stop() {
	close(g.stopCh)
	g.stopped.Wait()
	g.logger.Info("Gossip loop stopped")
}

// Round performs one gossip tick. Exposed for deterministic tests.
func (g *Gossiper) Round(ctx context.Context) {
	g.table.Tick()

	peers := g.gossipTargets()
	for _, peer := range peers {
		exchCtx, cancel := context.WithTimeout(ctx, g.cfg.ExchangeTimeout)
		remote, err := g.transport.Exchange(exchCtx, peer, g.table.Snapshot())
		cancel()
		if err != nil {
			g.logger.Debug("Gossip exchange failed",
				zap.String("peer", peer.NodeID),
				zap.Error(err))
			continue
		}
		for _, nodeID := range g.table.Merge(remote) {
			g.detector.Heartbeat(nodeID)
		}
	}

	g.detector.Evaluate()
}

// HandleExchange serves the receiving side of a gossip exchange: merge
// the caller's view and answer with our own.
func (g *Gossiper) HandleExchange(remote []model.Member) []model.Member {
	for _, nodeID := range g.table.Merge(remote) {
		g.detector.Heartbeat(nodeID)
	}
	return g.table.Snapshot()
}

// gossipTargets picks up to Fanout random non-down peers. Suspect peers
// stay eligible so a recovered node is noticed quickly.
func (g *Gossiper) gossipTargets() []model.Member {
	var candidates []model.Member
	for _, m := range g.table.Snapshot() {
		if m.NodeID == g.table.selfID {
			continue
		}
		if m.Status == model.StatusActive || m.Status == model.StatusSuspect {
			candidates = append(candidates, m)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > g.cfg.Fanout {
		candidates = candidates[:g.cfg.Fanout]
	}
	return candidates
}
