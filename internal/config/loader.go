package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file, applies environment
// overrides and validates the result. A missing file is not an error;
// defaults plus environment are used instead.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		} else if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides lets deployment environments override the
// file without templating it.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("DRIFTDB_NODE_ID"); v != "" {
		cfg.Node.NodeID = v
	}
	if v := os.Getenv("DRIFTDB_HOST"); v != "" {
		cfg.Node.Host = v
	}
	if v := os.Getenv("DRIFTDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Node.Port = port
		}
	}
	if v := os.Getenv("DRIFTDB_SEED_NODES"); v != "" {
		cfg.Node.SeedNodes = strings.Split(v, ",")
	}
	if v := os.Getenv("DRIFTDB_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("DRIFTDB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DRIFTDB_HINT_STORE"); v != "" {
		cfg.Hints.Store = v
	}
	if v := os.Getenv("DRIFTDB_IDEMPOTENCY_STORE"); v != "" {
		cfg.Idempotency.Store = v
	}
	if v := os.Getenv("DRIFTDB_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DRIFTDB_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DRIFTDB_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DRIFTDB_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DRIFTDB_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DRIFTDB_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("DRIFTDB_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("DRIFTDB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DRIFTDB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRIFTDB_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
