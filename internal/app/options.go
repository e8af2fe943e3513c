package service

import (
	"time"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the score store. Without one every operation fails with
// ErrNotConfigured.
func WithStore(store repository.Store, backend string) Option {
	return func(s *Service) {
		s.store = store
		s.backend = backend
	}
}

// WithNormalizer replaces the default submission normalizer.
func WithNormalizer(n *scoring.Normalizer) Option {
	return func(s *Service) {
		if n != nil {
			s.normalizer = n
		}
	}
}

// WithMaxPerPartition sets the retention bound per partition.
func WithMaxPerPartition(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerPartition = n
		}
	}
}

// WithOpTimeout bounds every individual store call.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithPruneWorkers sets the number of background prune workers.
func WithPruneWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.pruneWorkers = count
		}
	}
}

// WithPruneQueueSize sets the capacity of the background prune queue.
func WithPruneQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pruneQueueSize = size
		}
	}
}

// WithSweepInterval schedules a prune of every partition; zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sweepInterval = d
		}
	}
}

// WithStatsInterval sets how often gauges are refreshed; zero disables it.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.statsInterval = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
