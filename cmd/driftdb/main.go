package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/driftdb/driftdb/internal/antientropy"
	"github.com/driftdb/driftdb/internal/client"
	"github.com/driftdb/driftdb/internal/config"
	"github.com/driftdb/driftdb/internal/coordinator"
	"github.com/driftdb/driftdb/internal/health"
	"github.com/driftdb/driftdb/internal/hints"
	"github.com/driftdb/driftdb/internal/idempotency"
	"github.com/driftdb/driftdb/internal/membership"
	"github.com/driftdb/driftdb/internal/metrics"
	"github.com/driftdb/driftdb/internal/model"
	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/server"
	"github.com/driftdb/driftdb/internal/storage"
	"github.com/driftdb/driftdb/internal/version"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting DriftDB node",
		zap.String("node_id", cfg.Node.NodeID),
		zap.String("address", cfg.Node.Address()),
		zap.Int("replication_factor", cfg.Ring.ReplicationFactor),
		zap.Int("read_quorum", cfg.Consistency.ReadQuorum),
		zap.Int("write_quorum", cfg.Consistency.WriteQuorum),
		zap.String("conflict_policy", cfg.Consistency.Policy),
		zap.String("storage_engine", cfg.Storage.Engine))

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Local storage
	var engine storage.Engine
	switch cfg.Storage.Engine {
	case "bolt":
		engine, err = storage.NewBoltEngine(cfg.Storage.Path, ring.Token)
		if err != nil {
			logger.Fatal("Failed to open storage engine", zap.Error(err))
		}
	default:
		engine = storage.NewMemoryEngine(ring.Token)
	}
	resolver := version.NewResolver(version.Policy(cfg.Consistency.Policy))
	replica := storage.NewReplica(cfg.Node.NodeID, engine, resolver, logger)
	logger.Info("Storage initialized")

	// Membership and placement
	self := model.Member{
		NodeID:  cfg.Node.NodeID,
		Address: cfg.Node.Address(),
		Status:  model.StatusActive,
	}
	table := membership.NewTable(self, logger)
	rng := ring.New(cfg.Ring.ReplicationFactor, cfg.Ring.VirtualNodes)
	table.OnChange(rng.OnMembershipChange)
	table.OnChange(func(view []model.Member) {
		down := 0
		for _, member := range view {
			if member.Status == model.StatusDown {
				down++
			}
		}
		m.ClusterSize.Set(float64(len(view)))
		m.PeersDown.Set(float64(down))
	})
	rng.OnMembershipChange(table.Snapshot())

	detectorCfg := membership.DefaultDetectorConfig()
	detectorCfg.PhiThreshold = cfg.Gossip.PhiThreshold
	detectorCfg.WindowSize = cfg.Gossip.PhiWindow
	detectorCfg.DownAfter = cfg.Gossip.DownAfter
	detector := membership.NewDetector(detectorCfg, table, logger)

	// Peer transport
	httpClient := client.NewHTTP(cfg.Node.NodeID, replica, cfg.Consistency.ReplicaTimeout, logger)
	nodeWriter := client.NewNodeWriter(httpClient, table)

	gossiper := membership.NewGossiper(membership.GossiperConfig{
		Interval:        cfg.Gossip.Interval,
		Fanout:          cfg.Gossip.Fanout,
		ExchangeTimeout: cfg.Gossip.ExchangeTimeout,
	}, table, detector, httpClient, logger)

	var carrier *membership.MemberlistCarrier
	if cfg.Gossip.MemberlistEnabled {
		carrier, err = membership.NewMemberlistCarrier(membership.CarrierConfig{
			Enabled:       true,
			BindAddr:      cfg.Node.Host,
			BindPort:      cfg.Gossip.MemberlistBindPort,
			SeedNodes:     cfg.Node.SeedNodes,
			ProbeTimeout:  cfg.Gossip.ProbeTimeout,
			ProbeInterval: cfg.Gossip.ProbeInterval,
		}, table, logger)
		if err != nil {
			logger.Fatal("Failed to start memberlist carrier", zap.Error(err))
		}
		logger.Info("Memberlist carrier started",
			zap.Int("bind_port", cfg.Gossip.MemberlistBindPort),
			zap.Strings("seed_nodes", cfg.Node.SeedNodes))
	}

	// Hinted handoff
	var hintStore hints.Store
	var pgPool *pgxpool.Pool
	switch cfg.Hints.Store {
	case "postgres":
		pgPool, err = pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		hintStore = hints.NewPostgresStore(pgPool)
		logger.Info("Postgres hint store initialized",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
	default:
		hintStore = hints.NewMemoryStore(cfg.Hints.MaxPerNode, logger)
	}

	replayer := hints.NewReplayer(hints.ReplayerConfig{
		Interval:   cfg.Hints.ReplayInterval,
		BatchSize:  cfg.Hints.BatchSize,
		MaxReplays: cfg.Hints.MaxReplays,
		HintTTL:    cfg.Hints.TTL,
		RateLimit:  rate.Limit(cfg.Hints.RateLimit),
		RateBurst:  cfg.Hints.RateBurst,
	}, hintStore, nodeWriter, table, m, logger)

	// Idempotency
	var idemStore idempotency.Store
	switch cfg.Idempotency.Store {
	case "redis":
		idemStore, err = idempotency.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		logger.Info("Redis idempotency store initialized", zap.String("addr", cfg.Redis.Addr()))
	default:
		idemStore = idempotency.NewMemoryStore()
	}

	// Anti-entropy
	repairer := antientropy.NewRepairer(antientropy.RepairerConfig{
		QueueSize:    cfg.AntiEntropy.RepairQueueSize,
		Workers:      cfg.AntiEntropy.RepairWorkers,
		WriteTimeout: cfg.Consistency.ReplicaTimeout,
	}, nodeWriter, m, logger)

	syncer := antientropy.NewSyncer(antientropy.SyncerConfig{
		Interval:       cfg.AntiEntropy.SyncInterval,
		TreeDepth:      cfg.AntiEntropy.TreeDepth,
		PullBatch:      cfg.AntiEntropy.PullBatch,
		SessionTimeout: cfg.AntiEntropy.SessionTimeout,
	}, replica, rng, table, httpClient, m, logger)

	reaper := antientropy.NewReaper(antientropy.ReaperConfig{
		GracePeriod: cfg.Consistency.TombstoneGracePeriod,
		Interval:    cfg.AntiEntropy.ReaperInterval,
		BatchSize:   cfg.AntiEntropy.ReaperBatchSize,
		PassTimeout: 10 * time.Minute,
	}, replica, rng, table, httpClient, m, logger)

	// Quorum coordinator
	coord := coordinator.New(coordinator.Config{
		ReadQuorum:      cfg.Consistency.ReadQuorum,
		WriteQuorum:     cfg.Consistency.WriteQuorum,
		ReplicaTimeout:  cfg.Consistency.ReplicaTimeout,
		MaxKeyBytes:     cfg.Consistency.MaxKeyBytes,
		MaxValueBytes:   cfg.Consistency.MaxValueBytes,
		ClockMaxEntries: cfg.Consistency.ClockMaxEntries,
		IdempotencyTTL:  cfg.Idempotency.TTL,
	}, cfg.Node.NodeID, rng, table, httpClient, resolver, hintStore, idemStore, repairer, m, logger)

	// Health checks
	h := health.New(logger)
	h.Register("storage", func(ctx context.Context) error {
		_, err := engine.Digest(ctx, 0, 0)
		return err
	})
	h.Register("membership", func(ctx context.Context) error {
		if rng.NodeCount() == 0 {
			return fmt.Errorf("ring has no members")
		}
		return nil
	})
	if pgPool != nil {
		h.Register("postgres", pgPool.Ping)
	}

	// HTTP server
	handlers := server.NewHandlers(coord, replica, gossiper, table, logger)
	srv := server.New(server.Config{
		Port:             cfg.Node.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
		RateLimitEnabled: cfg.Server.RateLimitEnabled,
		RateLimitRPS:     cfg.Server.RateLimitRPS,
		RateLimitBurst:   cfg.Server.RateLimitBurst,
	}, handlers, h, registry, logger)

	// Background loops
	gossiper.Start()
	replayer.Start()
	repairer.Start()
	syncer.Start()
	reaper.Start()
	logger.Info("Background services started")

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down gracefully")

	// Tell peers we are leaving before the listener goes away.
	table.MarkLeaving()
	if carrier != nil {
		if err := carrier.Leave(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("Memberlist leave failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	gossiper.Stop()
	replayer.Stop()
	syncer.Stop()
	reaper.Stop()
	repairer.Stop()

	if err := idemStore.Close(); err != nil {
		logger.Warn("Failed to close idempotency store", zap.Error(err))
	}
	if pgPool != nil {
		pgPool.Close()
	}
	if err := engine.Close(); err != nil {
		logger.Warn("Failed to close storage engine", zap.Error(err))
	}

	logger.Info("DriftDB node stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
