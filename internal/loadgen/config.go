// Package loadgen drives concurrent submissions against a running leaderboard
// service and checks the resulting boards against a locally computed
// reference.
package loadgen

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid loadgen config")

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Tracks     int           // Number of distinct tracks
	Players    int           // Players per track
	Attempts   int           // Attempts per player per partition
	Limit      int           // Page size used when reading boards back
	RankChecks int           // Players per partition whose rank is queried
	Workers    int           // Concurrent HTTP workers
	Timeout    time.Duration // Per-request timeout
	Seed       uint64        // Generator seed, 0 picks one from the clock
	OutputFile string        // Optional JSON dump of the generated submissions
	Verbose    bool
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:9080",
		Tracks:     4,
		Players:    300,
		Attempts:   5,
		Limit:      200,
		RankChecks: 20,
		Workers:    16,
		Timeout:    10 * time.Second,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Tracks < 1:
		return fmt.Errorf("%w: tracks must be >= 1", ErrInvalidConfig)
	case c.Players < 1:
		return fmt.Errorf("%w: players must be >= 1", ErrInvalidConfig)
	case c.Attempts < 1:
		return fmt.Errorf("%w: attempts must be >= 1", ErrInvalidConfig)
	case c.Limit < 1:
		return fmt.Errorf("%w: limit must be >= 1", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Submitted       int
	Accepted        int
	Improved        int
	Failed          int
	Partitions      int
	BoardEntries    int
	RanksChecked    int
	Violations      int
	MaxPerPartition int
	StartTime       time.Time
	Duration        time.Duration
}

// SubmitsPerSecond is the submission throughput of the run.
func (s Stats) SubmitsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Submitted) / s.Duration.Seconds()
}
