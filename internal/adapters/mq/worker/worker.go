// Package worker runs background prune jobs taken off the prune queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/rhythmboard/internal/adapters/mq/queue"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/pkg/logger"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = queue.Job

// Pruner trims a partition to its retention bound.
type Pruner interface {
	PrunePartition(ctx context.Context, p model.Partition) (int, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// DoneFunc is called after every job, successful or not.
type DoneFunc func(ctx context.Context, j Job, deleted int, err error)

// Worker processes prune jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing prune jobs.
type InMemoryWorker struct {
	queue  Queue
	pruner Pruner
	name   string
	onDone DoneFunc

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, pruner Pruner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		pruner:   pruner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.Named(w.name)

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.processJob(ctx, j); err != nil {
				w.logger.Warn(ctx, "prune job failed",
					logger.String("partition", j.Partition.String()),
					logger.String("reason", j.Reason),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob handles a single job.
func (w *InMemoryWorker) processJob(ctx context.Context, j Job) error {
	start := time.Now()
	deleted, err := w.pruner.PrunePartition(ctx, j.Partition)
	metrics.RecordWorkerJobLatency(float64(time.Since(start).Microseconds()) / 1000)

	if w.onDone != nil {
		w.onDone(ctx, j, deleted, err)
	}
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "prune_failed")
		return fmt.Errorf("prune %s: %w", j.Partition, err)
	}
	if deleted > 0 {
		w.logger.Debug(ctx, "pruned partition",
			logger.String("partition", j.Partition.String()),
			logger.Int("deleted", deleted),
			logger.Duration("queued_for", start.Sub(j.EnqueuedAt)),
		)
	}
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool. workerCount < 1 means one per CPU.
// opts apply to every worker; each worker is named worker-<i>.
func NewPool(workerCount int, q Queue, pruner Pruner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	// The pool logs through the same logger its workers are given.
	probe := &InMemoryWorker{}
	for _, opt := range opts {
		opt(probe)
	}
	if probe.logger == nil {
		probe.logger = logger.Get()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  probe.logger.Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, pruner, wopts...)
	}

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerActiveCount(len(p.workers))
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue and waits for the workers to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return firstErr
}
