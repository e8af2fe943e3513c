// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers a YAML file and RHYTHM_ env vars on top of the defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"slices"
	"time"
)

// Storage backends understood by the server.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// Backends lists every accepted store_backend value.
var Backends = []string{BackendMemory, BackendRedis, BackendPostgres, BackendSQLite, BackendNone} //nolint:gochecknoglobals // fixed enumeration

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreBackend picks the score store: memory, redis, postgres, sqlite or none.
	// "none" starts the server without storage; leaderboard routes answer 503.
	StoreBackend string `koanf:"store_backend"`

	RedisURL    string `koanf:"redis_url"`
	PostgresDSN string `koanf:"postgres_dsn"`
	SQLitePath  string `koanf:"sqlite_path"`

	// PoolSize bounds the number of connections held by the store.
	PoolSize int `koanf:"pool_size"`

	// MaxPerPartition is the retention bound per (track, difficulty).
	MaxPerPartition int `koanf:"max_per_partition"`

	// MaxLeaderboardLimit caps GET /leaderboard/{trackId}?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// DefaultLeaderboardLimit applies when limit is missing or unparsable.
	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`

	// OpTimeoutMS bounds every individual store call.
	OpTimeoutMS int `koanf:"op_timeout_ms"`

	// PruneWorkers sets the number of background prune workers.
	PruneWorkers int `koanf:"prune_workers"`

	// PruneQueueSize bounds the background prune queue.
	PruneQueueSize int `koanf:"prune_queue_size"`

	// PruneSweepIntervalMS schedules a full prune pass; 0 disables it.
	PruneSweepIntervalMS int `koanf:"prune_sweep_interval_ms"`

	// StatsIntervalMS controls how often partition and record gauges refresh.
	StatsIntervalMS int `koanf:"stats_interval_ms"`

	// CORSOrigin is echoed in Access-Control-Allow-Origin.
	CORSOrigin string `koanf:"cors_origin"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		StoreBackend:            BackendMemory,
		RedisURL:                "redis://localhost:6379/0",
		SQLitePath:              "rhythmboard.db",
		PoolSize:                10,
		MaxPerPartition:         100,
		MaxLeaderboardLimit:     200,
		DefaultLeaderboardLimit: 50,
		OpTimeoutMS:             2000,
		PruneWorkers:            2,
		PruneQueueSize:          4096,
		PruneSweepIntervalMS:    0,
		StatsIntervalMS:         15_000,
		CORSOrigin:              "*",
	}
}

// OpTimeout returns OpTimeoutMS as a duration.
func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}

// PruneSweepInterval returns PruneSweepIntervalMS as a duration.
func (c *Config) PruneSweepInterval() time.Duration {
	return time.Duration(c.PruneSweepIntervalMS) * time.Millisecond
}

// StatsInterval returns StatsIntervalMS as a duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMS) * time.Millisecond
}

// Validate checks field ranges and backend-specific requirements.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !slices.Contains(Backends, c.StoreBackend):
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrUnknownBackend, c.StoreBackend)
	case c.StoreBackend == BackendRedis && c.RedisURL == "":
		return fmt.Errorf("%w: %w: redis_url is required for the redis backend", ErrInvalidConfig, ErrBackendSetting)
	case c.StoreBackend == BackendPostgres && c.PostgresDSN == "":
		return fmt.Errorf("%w: %w: postgres_dsn is required for the postgres backend", ErrInvalidConfig, ErrBackendSetting)
	case c.StoreBackend == BackendSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: %w: sqlite_path is required for the sqlite backend", ErrInvalidConfig, ErrBackendSetting)
	case c.PoolSize < 1:
		return fmt.Errorf("%w: pool_size must be positive", ErrInvalidConfig)
	case c.MaxPerPartition < 1:
		return fmt.Errorf("%w: max_per_partition must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.DefaultLeaderboardLimit < 1 || c.DefaultLeaderboardLimit > c.MaxLeaderboardLimit:
		return fmt.Errorf("%w: default_leaderboard_limit must be in [1, max_leaderboard_limit]", ErrInvalidConfig)
	case c.OpTimeoutMS < 1:
		return fmt.Errorf("%w: op_timeout_ms must be positive", ErrInvalidConfig)
	case c.PruneWorkers < 1:
		return fmt.Errorf("%w: prune_workers must be positive", ErrInvalidConfig)
	case c.PruneQueueSize < 1:
		return fmt.Errorf("%w: prune_queue_size must be positive", ErrInvalidConfig)
	case c.PruneSweepIntervalMS < 0:
		return fmt.Errorf("%w: prune_sweep_interval_ms must not be negative", ErrInvalidConfig)
	case c.StatsIntervalMS < 0:
		return fmt.Errorf("%w: stats_interval_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}
