// Package service provides the leaderboard business service that implements
// the dependencies required by the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/rhythmboard/internal/adapters/mq/queue"
	"github.com/okian/rhythmboard/internal/adapters/mq/worker"
	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/dedupe"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/pkg/logger"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultMaxPerPartition = 100
	defaultOpTimeout       = 2 * time.Second
	defaultPruneWorkers    = 2
	defaultPruneQueueSize  = 4096
	defaultStatsInterval   = 15 * time.Second
)

// Service implements the leaderboard operations on top of a score store.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	backend    string
	normalizer *scoring.Normalizer
	pending    dedupe.Deduper
	pruneQueue *queue.InMemoryQueue
	pool       *worker.Pool

	// Configuration
	maxPerPartition int
	opTimeout       time.Duration
	pruneWorkers    int
	pruneQueueSize  int
	sweepInterval   time.Duration
	statsInterval   time.Duration

	// State
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		backend:         "none",
		normalizer:      scoring.NewNormalizer(),
		maxPerPartition: defaultMaxPerPartition,
		opTimeout:       defaultOpTimeout,
		pruneWorkers:    defaultPruneWorkers,
		pruneQueueSize:  defaultPruneQueueSize,
		statsInterval:   defaultStatsInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.pending = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.pruneQueueSize))
	s.pruneQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.pruneQueueSize))

	return s
}

// Configured reports whether a store is attached.
func (s *Service) Configured() bool {
	return s.store != nil
}

// MaxPerPartition returns the retention bound.
func (s *Service) MaxPerPartition() int {
	return s.maxPerPartition
}

// Start launches the prune workers and the periodic sweep and stats loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return nil
	}
	if s.store == nil {
		s.logger.Warn(ctx, "starting without a score store; leaderboard requests will be refused")
		s.started = true
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.pool = worker.NewPool(s.pruneWorkers, s.pruneQueue, s,
		worker.WithLogger(s.logger.Named("prune")),
		worker.WithOnDone(func(ctx context.Context, j worker.Job, _ int, _ error) {
			s.pending.Unrecord(ctx, j.Partition.String())
		}),
	)
	s.pool.Start(runCtx)

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.loop(runCtx, s.sweepInterval, func(ctx context.Context) { s.enqueueSweep(ctx) })
	}
	if s.statsInterval > 0 {
		s.wg.Add(1)
		go s.loop(runCtx, s.statsInterval, func(ctx context.Context) { s.refreshStats(ctx) })
	}

	s.started = true
	s.logger.Info(ctx, "leaderboard service started",
		logger.String("backend", s.backend),
		logger.Int("maxPerPartition", s.maxPerPartition),
		logger.Int("pruneWorkers", s.pool.Size()),
		logger.Int("pruneQueueSize", s.pruneQueueSize),
		logger.Duration("opTimeout", s.opTimeout),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop stops background work. The store itself is owned by the caller and a
// stopped service cannot be started again.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopped = true
	pool, cancel := s.pool, s.cancel
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping leaderboard service...")

	if pool != nil {
		if err := pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "prune workers did not stop cleanly", logger.Error(err))
		}
	} else {
		_ = s.pruneQueue.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info(ctx, "leaderboard service stopped")
}

func (s *Service) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stats summarizes the service for /stats and the CLI.
type Stats struct {
	Started          bool   `json:"started"`
	Backend          string `json:"backend"`
	Partitions       int    `json:"partitions"`
	Records          int    `json:"records"`
	MaxPerPartition  int    `json:"maxPerPartition"`
	PruneWorkers     int    `json:"pruneWorkers"`
	PruneQueueLength int    `json:"pruneQueueLength"`
	PendingPrunes    int64  `json:"pendingPrunes"`
}

// Stats counts partitions and records and refreshes the matching gauges.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{
		Started:          s.started,
		Backend:          s.backend,
		MaxPerPartition:  s.maxPerPartition,
		PruneQueueLength: s.pruneQueue.Len(ctx),
		PendingPrunes:    s.pending.Size(),
	}
	if s.pool != nil {
		st.PruneWorkers = s.pool.Size()
	}
	s.mu.RUnlock()

	if s.store == nil {
		return st, ErrNotConfigured
	}
	parts, err := s.partitions(ctx)
	if err != nil {
		return st, err
	}
	st.Partitions = len(parts)
	for _, p := range parts {
		var n int
		err := s.withTimeout(ctx, func(ctx context.Context) (err error) {
			n, err = s.store.CountPartition(ctx, p)
			return err
		})
		if err != nil {
			return st, storageErr("count", err)
		}
		st.Records += n
	}

	metrics.UpdatePartitions(st.Partitions)
	metrics.UpdateRecordsTotal(st.Records)
	return st, nil
}

func (s *Service) refreshStats(ctx context.Context) {
	if _, err := s.Stats(ctx); err != nil {
		s.logger.Warn(ctx, "stats refresh failed", logger.Error(err))
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if mem.NumGC > 0 {
		last := mem.PauseNs[(mem.NumGC+255)%256]
		metrics.RecordSystemGCPauseTime(float64(last) / float64(time.Millisecond))
	}
}

// Ready pings the store.
func (s *Service) Ready(ctx context.Context) error {
	if s.store == nil {
		return ErrNotConfigured
	}
	if err := s.withTimeout(ctx, s.store.Ping); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *Service) partitions(ctx context.Context) ([]model.Partition, error) {
	var parts []model.Partition
	err := s.withTimeout(ctx, func(ctx context.Context) (err error) {
		parts, err = s.store.Partitions(ctx)
		return err
	})
	if err != nil {
		return nil, storageErr("partitions", err)
	}
	return parts, nil
}

// withTimeout runs fn under the per-operation timeout.
func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return fn(ctx)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
