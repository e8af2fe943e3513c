package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// Instrument wraps s so every call records latency and failures under the
// given backend label.
func Instrument(s Store, backend string) Store {
	return &instrumented{next: s, backend: backend}
}

type instrumented struct {
	next    Store
	backend string
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOp(i.backend, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(i.backend, op)
		metrics.RecordErrorByComponent("store", i.backend)
	}
}

func (i *instrumented) Get(ctx context.Context, key model.Key) (model.ScoreRecord, error) {
	start := time.Now()
	rec, err := i.next.Get(ctx, key)
	i.observe("get", start, err)
	return rec, err
}

func (i *instrumented) Put(ctx context.Context, rec model.ScoreRecord) error {
	start := time.Now()
	err := i.next.Put(ctx, rec)
	i.observe("put", start, err)
	return err
}

func (i *instrumented) ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error) {
	start := time.Now()
	out, err := i.next.ScanTop(ctx, p, limit)
	i.observe("scan_top", start, err)
	return out, err
}

func (i *instrumented) CountPartition(ctx context.Context, p model.Partition) (int, error) {
	start := time.Now()
	n, err := i.next.CountPartition(ctx, p)
	i.observe("count", start, err)
	return n, err
}

func (i *instrumented) UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error) {
	start := time.Now()
	changed, err := i.next.UpsertBest(ctx, rec)
	i.observe("upsert_best", start, err)
	return changed, err
}

func (i *instrumented) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	start := time.Now()
	n, err := i.next.Prune(ctx, p, keep)
	i.observe("prune", start, err)
	return n, err
}

func (i *instrumented) RankOf(ctx context.Context, key model.Key) (int, int, error) {
	start := time.Now()
	rank, total, err := i.next.RankOf(ctx, key)
	i.observe("rank_of", start, err)
	return rank, total, err
}

func (i *instrumented) Partitions(ctx context.Context) ([]model.Partition, error) {
	start := time.Now()
	out, err := i.next.Partitions(ctx)
	i.observe("partitions", start, err)
	return out, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.next.Ping(ctx)
	i.observe("ping", start, err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
