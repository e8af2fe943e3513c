// Package redisstore is the Redis-backed repository.Store.
//
// Layout per partition (the partition is hash-tagged in both key names):
//
//	<prefix>:lb:{<diff>:<track>}:z  sorted set of ranking.SortKey members, all at score 0
//	<prefix>:lb:{<diff>:<track>}:h  hash player name -> current sort key
//	<prefix>:partitions             set of non-empty partitions
//
// With equal scores Redis orders members byte-wise, so ZRANGE and ZRANK follow
// the ranking comparator directly.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/ranking"
)

const (
	modeBest = "best"
	modePut  = "put"
)

// KEYS: zset, hash, index. ARGV: player, sort key, mode, partition, prefix len.
// Returns 1 when the record was written.
var upsertScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[2], ARGV[1])
if old and ARGV[3] == 'best' then
	local n = tonumber(ARGV[5])
	if string.sub(ARGV[2], 1, n) >= string.sub(old, 1, n) then
		return 0
	end
end
if old then
	redis.call('ZREM', KEYS[1], old)
end
redis.call('ZADD', KEYS[1], '0', ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// KEYS: zset, hash, index. ARGV: keep, partition, prefix len.
// Returns the number of removed records.
var pruneScript = redis.NewScript(`
local n = tonumber(ARGV[3])
local tail = redis.call('ZRANGE', KEYS[1], ARGV[1], '-1')
for _, k in ipairs(tail) do
	redis.call('HDEL', KEYS[2], string.sub(k, n + 1))
end
if #tail > 0 then
	redis.call('ZREMRANGEBYRANK', KEYS[1], ARGV[1], '-1')
end
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
end
return #tail
`)

// KEYS: zset, hash. ARGV: player. Returns {rank, total}; rank 0 means absent.
var rankScript = redis.NewScript(`
local total = redis.call('ZCARD', KEYS[1])
local sk = redis.call('HGET', KEYS[2], ARGV[1])
if not sk then
	return {0, total}
end
local r = redis.call('ZRANK', KEYS[1], sk)
if not r then
	return {0, total}
end
return {r + 1, total}
`)

// Store implements repository.Store on Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	closed atomic.Bool
}

var _ repository.Store = (*Store)(nil)

// New wraps an existing client. The store owns rdb and closes it on Close.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "rhythm",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL, sizes the connection pool and checks
// connectivity.
func Open(ctx context.Context, url string, poolSize int, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	if poolSize > 0 {
		o.PoolSize = poolSize
	}
	s := New(redis.NewClient(o), opts...)
	if err := s.Ping(ctx); err != nil {
		_ = s.rdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) zsetKey(p model.Partition) string { return s.prefix + ":lb:{" + p.String() + "}:z" }
func (s *Store) hashKey(p model.Partition) string { return s.prefix + ":lb:{" + p.String() + "}:h" }
func (s *Store) indexKey() string                 { return s.prefix + ":partitions" }

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	return repository.CtxErr(ctx, op)
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, key model.Key) (model.ScoreRecord, error) {
	if err := s.check(ctx, "get"); err != nil {
		return model.ScoreRecord{}, err
	}
	sk, err := s.rdb.HGet(ctx, s.hashKey(key.Partition), key.PlayerName).Result()
	if errors.Is(err, redis.Nil) {
		return model.ScoreRecord{}, repository.ErrNotFound
	}
	if err != nil {
		return model.ScoreRecord{}, repository.Unavailable("get", err)
	}
	return ranking.ParseSortKey(key.Partition, sk)
}

// Put implements repository.Store.
func (s *Store) Put(ctx context.Context, rec model.ScoreRecord) error {
	if err := s.check(ctx, "put"); err != nil {
		return err
	}
	_, err := s.swap(ctx, "put", rec, modePut)
	return err
}

// UpsertBest implements repository.Store. The read-compare-write runs as one
// server-side script, so writes for other players never conflict with it.
func (s *Store) UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error) {
	if err := s.check(ctx, "upsert_best"); err != nil {
		return false, err
	}
	return s.swap(ctx, "upsert_best", rec, modeBest)
}

// swap writes rec under the given mode and reports whether anything changed.
func (s *Store) swap(ctx context.Context, op string, rec model.ScoreRecord, mode string) (bool, error) {
	p := rec.Partition()
	keys := []string{s.zsetKey(p), s.hashKey(p), s.indexKey()}
	n, err := upsertScript.Run(ctx, s.rdb, keys,
		rec.PlayerName, ranking.SortKey(rec), mode, p.String(), ranking.SortKeyPrefixLen,
	).Int()
	if err != nil {
		return false, repository.Unavailable(op, err)
	}
	return n == 1, nil
}

// ScanTop implements repository.Store.
func (s *Store) ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error) {
	if err := s.check(ctx, "scan_top"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.ScoreRecord{}, nil
	}
	keys, err := s.rdb.ZRange(ctx, s.zsetKey(p), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, repository.Unavailable("scan_top", err)
	}
	out := make([]model.ScoreRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := ranking.ParseSortKey(p, k)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountPartition implements repository.Store.
func (s *Store) CountPartition(ctx context.Context, p model.Partition) (int, error) {
	if err := s.check(ctx, "count"); err != nil {
		return 0, err
	}
	n, err := s.rdb.ZCard(ctx, s.zsetKey(p)).Result()
	if err != nil {
		return 0, repository.Unavailable("count", err)
	}
	return int(n), nil
}

// Prune implements repository.Store. The tail is read and removed by one
// script so the hash and the sorted set never drift apart.
func (s *Store) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	if err := s.check(ctx, "prune"); err != nil {
		return 0, err
	}
	if keep < 0 {
		return 0, repository.ErrInvalidLimit
	}
	keys := []string{s.zsetKey(p), s.hashKey(p), s.indexKey()}
	n, err := pruneScript.Run(ctx, s.rdb, keys, keep, p.String(), ranking.SortKeyPrefixLen).Int()
	if err != nil {
		return 0, repository.Unavailable("prune", err)
	}
	return n, nil
}

// RankOf implements repository.Store. Rank and total come from one script
// call, so they describe the same state of the partition.
func (s *Store) RankOf(ctx context.Context, key model.Key) (int, int, error) {
	if err := s.check(ctx, "rank_of"); err != nil {
		return 0, 0, err
	}
	keys := []string{s.zsetKey(key.Partition), s.hashKey(key.Partition)}
	res, err := rankScript.Run(ctx, s.rdb, keys, key.PlayerName).Int64Slice()
	if err != nil {
		return 0, 0, repository.Unavailable("rank_of", err)
	}
	if len(res) != 2 {
		return 0, 0, repository.Unavailable("rank_of", fmt.Errorf("unexpected reply %v", res))
	}
	return int(res[0]), int(res[1]), nil
}

// Partitions implements repository.Store.
func (s *Store) Partitions(ctx context.Context) ([]model.Partition, error) {
	if err := s.check(ctx, "partitions"); err != nil {
		return nil, err
	}
	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, repository.Unavailable("partitions", err)
	}
	out := make([]model.Partition, 0, len(members))
	for _, m := range members {
		if p, ok := model.ParsePartition(m); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Ping implements repository.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx, "ping"); err != nil {
		return err
	}
	return repository.Unavailable("ping", s.rdb.Ping(ctx).Err())
}

// Close implements repository.Store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rdb.Close()
}
