// Package repository defines the score record store interface, its errors and
// the in-memory treap backend. Durable backends live in subpackages.
package repository

import (
	"context"

	"github.com/okian/rhythmboard/internal/domain/model"
)

// Store provides read/write access to per-partition best records.
//
// Every method is safe for concurrent use. Failures caused by the backing
// system (network, timeouts, closed pools) wrap ErrUnavailable.
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key model.Key) (model.ScoreRecord, error)

	// Put overwrites the record under rec.Key() unconditionally.
	Put(ctx context.Context, rec model.ScoreRecord) error

	// ScanTop returns up to limit records of p in ranking order.
	// A limit <= 0 yields an empty slice.
	ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error)

	// CountPartition returns the number of records in p.
	CountPartition(ctx context.Context, p model.Partition) (int, error)

	// UpsertBest stores rec if no record exists for its key or if rec strictly
	// improves the stored one. The read-compare-write is atomic per key.
	// Returns true when the store was modified.
	UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error)

	// Prune deletes every record of p ranked below the first keep records and
	// returns how many were removed.
	Prune(ctx context.Context, p model.Partition, keep int) (int, error)

	// RankOf returns the 1-based position of key within its partition along
	// with the partition size. rank is 0 when the key has no record.
	RankOf(ctx context.Context, key model.Key) (rank int, total int, err error)

	// Partitions lists every partition that currently holds records.
	Partitions(ctx context.Context) ([]model.Partition, error)

	// Ping checks connectivity to the backing system.
	Ping(ctx context.Context) error

	// Close releases the backend's resources. Calls after Close fail with
	// ErrClosed.
	Close() error
}
