// Package queue defines the contract for enqueuing and consuming prune jobs.
//
// The in-memory implementation is a bounded channel: enqueue never blocks,
// a full queue rejects the job and the caller falls back to the next write or
// the periodic sweep.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 4096
)

// Job asks a worker to trim one partition back to its retention bound.
type Job struct {
	Partition  model.Partition
	Reason     string // "retry" after a failed inline prune, "sweep" from the periodic pass
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job to the queue.
	// Returns false if the queue is full or closed and the job was not enqueued.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel that will receive jobs as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new jobs can be enqueued and the dequeue channel will be closed.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueDropped()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs))
		return true
	case <-ctx.Done():
		metrics.RecordQueueDropped()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueDropped()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	// Wrap the channel to track dequeue metrics
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- j:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.jobs))
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Capacity returns the maximum number of pending jobs.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.jobs)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
