// Package dedupe coalesces repeated work requests for the same key.
//
// The prune scheduler records a partition here before queueing it and clears
// it once a worker has finished, so a partition that receives many writes
// while a prune is pending is queued only once.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper tracks keys that already have pending work.
type Deduper interface {
	// SeenAndRecord atomically checks if id is pending and records it if not.
	// Returns true if id was already pending, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord clears id so a later request can schedule it again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a mutex-guarded set.
// In bounded mode (maxSize > 0) a full set stops recording: SeenAndRecord then
// reports false without remembering id, so callers never lose work, they only
// lose coalescing.
type inMemoryDeduper struct {
	mu      sync.Mutex
	pending map[string]struct{}
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[id]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.pending) >= d.maxSize {
		return false
	}
	d.pending[id] = struct{}{}
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[id]; ok {
		delete(d.pending, id)
		d.size.Add(-1)
	}
}

// Size returns the number of pending keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
