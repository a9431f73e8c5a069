// Package config defines the node configuration, loaded from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the full node configuration.
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	Server      ServerConfig      `mapstructure:"server"`
	Ring        RingConfig        `mapstructure:"ring"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Hints       HintsConfig       `mapstructure:"hints"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AntiEntropy AntiEntropyConfig `mapstructure:"anti_entropy"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// NodeConfig identifies this node in the cluster.
type NodeConfig struct {
	NodeID    string   `mapstructure:"node_id"`
	Host      string   `mapstructure:"host"`
	Port      int      `mapstructure:"port"`
	SeedNodes []string `mapstructure:"seed_nodes"`
}

// Address returns the node's advertised host:port.
func (n NodeConfig) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitEnabled bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// RingConfig tunes consistent hashing.
type RingConfig struct {
	ReplicationFactor int `mapstructure:"replication_factor"`
	VirtualNodes      int `mapstructure:"virtual_nodes"`
}

// ConsistencyConfig tunes quorums and conflict resolution.
type ConsistencyConfig struct {
	// Policy is "vector_clock" or "lww".
	Policy               string        `mapstructure:"policy"`
	ReadQuorum           int           `mapstructure:"read_quorum"`
	WriteQuorum          int           `mapstructure:"write_quorum"`
	ReplicaTimeout       time.Duration `mapstructure:"replica_timeout"`
	ClockMaxEntries      int           `mapstructure:"clock_max_entries"`
	MaxKeyBytes          int           `mapstructure:"max_key_bytes"`
	MaxValueBytes        int           `mapstructure:"max_value_bytes"`
	TombstoneGracePeriod time.Duration `mapstructure:"tombstone_grace_period"`
}

// GossipConfig tunes membership gossip and failure detection.
type GossipConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Fanout          int           `mapstructure:"fanout"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	PhiThreshold    float64       `mapstructure:"phi_threshold"`
	PhiWindow       int           `mapstructure:"phi_window"`
	DownAfter       time.Duration `mapstructure:"down_after"`

	// Optional memberlist carrier for discovery.
	MemberlistEnabled  bool          `mapstructure:"memberlist_enabled"`
	MemberlistBindPort int           `mapstructure:"memberlist_bind_port"`
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
}

// StorageConfig selects the local storage engine.
type StorageConfig struct {
	// Engine is "bolt" or "memory".
	Engine string `mapstructure:"engine"`
	Path   string `mapstructure:"path"`
}

// HintsConfig tunes hinted handoff.
type HintsConfig struct {
	// Store is "memory" or "postgres".
	Store          string        `mapstructure:"store"`
	MaxPerNode     int           `mapstructure:"max_per_node"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxReplays     int           `mapstructure:"max_replays"`
	TTL            time.Duration `mapstructure:"ttl"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// IdempotencyConfig tunes write deduplication.
type IdempotencyConfig struct {
	// Store is "memory" or "redis".
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig configures the PostgreSQL hint store.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.MaxConnections)
}

// RedisConfig configures the Redis idempotency store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AntiEntropyConfig tunes background repair.
type AntiEntropyConfig struct {
	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	TreeDepth       int           `mapstructure:"tree_depth"`
	PullBatch       int           `mapstructure:"pull_batch"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	RepairQueueSize int           `mapstructure:"repair_queue_size"`
	RepairWorkers   int           `mapstructure:"repair_workers"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval"`
	ReaperBatchSize int           `mapstructure:"reaper_batch_size"`
}

// LoggingConfig tunes the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Node.NodeID == "" {
		return errors.New("node.node_id is required")
	}
	if c.Node.Host == "" {
		return errors.New("node.host is required")
	}
	if c.Node.Port <= 0 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Ring.ReplicationFactor <= 0 {
		return errors.New("ring.replication_factor must be positive")
	}
	if c.Ring.VirtualNodes <= 0 {
		return errors.New("ring.virtual_nodes must be positive")
	}
	if c.Consistency.Policy != "vector_clock" && c.Consistency.Policy != "lww" {
		return errors.New("consistency.policy must be one of: vector_clock, lww")
	}
	if c.Consistency.ReadQuorum <= 0 || c.Consistency.WriteQuorum <= 0 {
		return errors.New("consistency quorums must be positive")
	}
	if c.Consistency.ReadQuorum+c.Consistency.WriteQuorum <= c.Ring.ReplicationFactor {
		return fmt.Errorf("R+W must exceed N for read-your-writes: R=%d W=%d N=%d",
			c.Consistency.ReadQuorum, c.Consistency.WriteQuorum, c.Ring.ReplicationFactor)
	}
	if c.Consistency.ClockMaxEntries <= 0 {
		return errors.New("consistency.clock_max_entries must be positive")
	}
	switch c.Storage.Engine {
	case "memory":
	case "bolt":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the bolt engine")
		}
	default:
		return errors.New("storage.engine must be one of: bolt, memory")
	}
	switch c.Hints.Store {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
			return errors.New("database host, database and user are required for the postgres hint store")
		}
	default:
		return errors.New("hints.store must be one of: memory, postgres")
	}
	switch c.Idempotency.Store {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return errors.New("redis.host is required for the redis idempotency store")
		}
	default:
		return errors.New("idempotency.store must be one of: memory, redis")
	}
	if c.Gossip.PhiThreshold <= 0 {
		return errors.New("gossip.phi_threshold must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Host: "0.0.0.0",
			Port: 7070,
		},
		Server: ServerConfig{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    1000,
			RateLimitBurst:  200,
		},
		Ring: RingConfig{
			ReplicationFactor: 3,
			VirtualNodes:      16,
		},
		Consistency: ConsistencyConfig{
			Policy:               "vector_clock",
			ReadQuorum:           2,
			WriteQuorum:          2,
			ReplicaTimeout:       2 * time.Second,
			ClockMaxEntries:      16,
			MaxKeyBytes:          512,
			MaxValueBytes:        1 << 20,
			TombstoneGracePeriod: 24 * time.Hour,
		},
		Gossip: GossipConfig{
			Interval:        time.Second,
			Fanout:          3,
			ExchangeTimeout: 2 * time.Second,
			PhiThreshold:    8.0,
			PhiWindow:       100,
			DownAfter:       30 * time.Second,
			ProbeInterval:   time.Second,
			ProbeTimeout:    500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Engine: "bolt",
			Path:   "/var/lib/driftdb/data.db",
		},
		Hints: HintsConfig{
			Store:          "memory",
			MaxPerNode:     1000,
			ReplayInterval: 5 * time.Second,
			BatchSize:      100,
			MaxReplays:     3,
			TTL:            3 * time.Hour,
			RateLimit:      200,
			RateBurst:      50,
		},
		Idempotency: IdempotencyConfig{
			Store: "memory",
			TTL:   10 * time.Minute,
		},
		Database: DatabaseConfig{
			Port:           5432,
			MaxConnections: 10,
		},
		Redis: RedisConfig{
			Port: 6379,
		},
		AntiEntropy: AntiEntropyConfig{
			SyncInterval:    5 * time.Minute,
			TreeDepth:       10,
			PullBatch:       200,
			SessionTimeout:  2 * time.Minute,
			RepairQueueSize: 1000,
			RepairWorkers:   4,
			ReaperInterval:  time.Hour,
			ReaperBatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
