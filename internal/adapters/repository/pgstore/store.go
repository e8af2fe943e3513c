// Package pgstore is the PostgreSQL-backed repository.Store built on pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/pkg/metrics"
)

const backendName = "postgres"

// rankOrder mirrors ranking.Compare. COLLATE "C" keeps the name tie-break
// byte-wise regardless of the database locale.
const rankOrder = `score DESC, accuracy_bp DESC, combo DESC, ts_nanos ASC, player_name COLLATE "C" ASC`

// Store implements repository.Store on PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	rawTable    string
	table       string
	maxAttempts int
	closed      atomic.Bool
}

var _ repository.Store = (*Store)(nil)

// New wraps an existing pool. The store owns pool and closes it on Close.
// Call Migrate before first use on a fresh database.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		rawTable:    "score_records",
		maxAttempts: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.table = pgx.Identifier{s.rawTable}.Sanitize()
	return s
}

// Open connects with at most poolSize connections, pings and migrates.
func Open(ctx context.Context, dsn string, poolSize int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, repository.Unavailable("open", err)
	}
	s := New(pool, opts...)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table and ranking index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			track_id    text    NOT NULL,
			difficulty  text    NOT NULL,
			player_name text    NOT NULL,
			score       bigint  NOT NULL,
			accuracy_bp integer NOT NULL,
			combo       integer NOT NULL,
			ts_nanos    bigint  NOT NULL,
			PRIMARY KEY (track_id, difficulty, player_name)
		)`, s.table))
	if err != nil {
		return repository.Unavailable("migrate", err)
	}
	idx := pgx.Identifier{s.indexName()}.Sanitize()
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (track_id, difficulty, %s)`, idx, s.table, rankOrder))
	return repository.Unavailable("migrate", err)
}

func (s *Store) indexName() string {
	return s.rawTable + "_rank_idx"
}

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	return repository.CtxErr(ctx, op)
}

// retryable reports serialization failures, deadlocks and the unique
// violation two racing first inserts can produce.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

// inTx runs fn in a transaction, retrying serialization conflicts with a short
// linear backoff.
func (s *Store) inTx(ctx context.Context, op string, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, opts, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return repository.Unavailable(op, err)
		}
		metrics.RecordStoreConflict(backendName)
		t := time.NewTimer(time.Duration(attempt+1) * 5 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return repository.Unavailable(op, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s: %w", op, repository.ErrConflict)
}

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable} //nolint:gochecknoglobals // immutable tx options

func scanRecord(p model.Partition) pgx.RowToFunc[model.ScoreRecord] {
	return func(row pgx.CollectableRow) (model.ScoreRecord, error) {
		rec := model.ScoreRecord{TrackID: p.TrackID, Difficulty: p.Difficulty}
		var ts int64
		err := row.Scan(&rec.PlayerName, &rec.Score, &rec.AccuracyBP, &rec.Combo, &ts)
		rec.Timestamp = time.Unix(0, ts).UTC()
		return rec, err
	}
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, key model.Key) (model.ScoreRecord, error) {
	if err := s.check(ctx, "get"); err != nil {
		return model.ScoreRecord{}, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT player_name, score, accuracy_bp, combo, ts_nanos FROM %s
		WHERE track_id = $1 AND difficulty = $2 AND player_name = $3`, s.table),
		key.TrackID, string(key.Difficulty), key.PlayerName)
	if err != nil {
		return model.ScoreRecord{}, repository.Unavailable("get", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord(key.Partition))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ScoreRecord{}, repository.ErrNotFound
	}
	if err != nil {
		return model.ScoreRecord{}, repository.Unavailable("get", err)
	}
	return rec, nil
}

func (s *Store) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (track_id, difficulty, player_name, score, accuracy_bp, combo, ts_nanos)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (track_id, difficulty, player_name) DO UPDATE SET
			score = EXCLUDED.score,
			accuracy_bp = EXCLUDED.accuracy_bp,
			combo = EXCLUDED.combo,
			ts_nanos = EXCLUDED.ts_nanos`, s.table)
}

func recordArgs(rec model.ScoreRecord) []any {
	return []any{rec.TrackID, string(rec.Difficulty), rec.PlayerName, rec.Score, rec.AccuracyBP, rec.Combo, rec.Timestamp.UnixNano()}
}

// Put implements repository.Store.
func (s *Store) Put(ctx context.Context, rec model.ScoreRecord) error {
	if err := s.check(ctx, "put"); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, s.upsertSQL(), recordArgs(rec)...)
	return repository.Unavailable("put", err)
}

// upsertBestSQL only overwrites the existing row when the new result ranks
// strictly ahead of it. Negating ts_nanos turns the mixed sort directions into
// one lexicographic row comparison.
func (s *Store) upsertBestSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s AS t (track_id, difficulty, player_name, score, accuracy_bp, combo, ts_nanos)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (track_id, difficulty, player_name) DO UPDATE SET
			score = EXCLUDED.score,
			accuracy_bp = EXCLUDED.accuracy_bp,
			combo = EXCLUDED.combo,
			ts_nanos = EXCLUDED.ts_nanos
		WHERE (EXCLUDED.score, EXCLUDED.accuracy_bp, EXCLUDED.combo, -EXCLUDED.ts_nanos)
			> (t.score, t.accuracy_bp, t.combo, -t.ts_nanos)`, s.table)
}

// UpsertBest implements repository.Store as a single INSERT ... ON CONFLICT
// statement. The conflicting row is locked for the comparison, so writes to
// other players never wait on or abort each other.
func (s *Store) UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error) {
	if err := s.check(ctx, "upsert_best"); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, s.upsertBestSQL(), recordArgs(rec)...)
	if err != nil {
		return false, repository.Unavailable("upsert_best", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ScanTop implements repository.Store.
func (s *Store) ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error) {
	if err := s.check(ctx, "scan_top"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.ScoreRecord{}, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT player_name, score, accuracy_bp, combo, ts_nanos FROM %s
		WHERE track_id = $1 AND difficulty = $2
		ORDER BY %s
		LIMIT $3`, s.table, rankOrder),
		p.TrackID, string(p.Difficulty), limit)
	if err != nil {
		return nil, repository.Unavailable("scan_top", err)
	}
	out, err := pgx.CollectRows(rows, scanRecord(p))
	if err != nil {
		return nil, repository.Unavailable("scan_top", err)
	}
	if out == nil {
		out = []model.ScoreRecord{}
	}
	return out, nil
}

// CountPartition implements repository.Store.
func (s *Store) CountPartition(ctx context.Context, p model.Partition) (int, error) {
	if err := s.check(ctx, "count"); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE track_id = $1 AND difficulty = $2`, s.table),
		p.TrackID, string(p.Difficulty)).Scan(&n)
	if err != nil {
		return 0, repository.Unavailable("count", err)
	}
	return n, nil
}

// Prune implements repository.Store with a single DELETE of everything past
// the first keep rows.
func (s *Store) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	if err := s.check(ctx, "prune"); err != nil {
		return 0, err
	}
	if keep < 0 {
		return 0, repository.ErrInvalidLimit
	}
	var deleted int
	err := s.inTx(ctx, "prune", serializable, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			DELETE FROM %[1]s
			WHERE track_id = $1 AND difficulty = $2 AND player_name IN (
				SELECT player_name FROM %[1]s
				WHERE track_id = $1 AND difficulty = $2
				ORDER BY %[2]s
				OFFSET $3
			)`, s.table, rankOrder),
			p.TrackID, string(p.Difficulty), keep)
		if err != nil {
			return err
		}
		deleted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// RankOf implements repository.Store. Lookup and count share one snapshot.
func (s *Store) RankOf(ctx context.Context, key model.Key) (int, int, error) {
	if err := s.check(ctx, "rank_of"); err != nil {
		return 0, 0, err
	}
	var rank, total int
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := s.inTx(ctx, "rank_of", opts, func(tx pgx.Tx) error {
		rank, total = 0, 0
		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT player_name, score, accuracy_bp, combo, ts_nanos FROM %s
			WHERE track_id = $1 AND difficulty = $2 AND player_name = $3`, s.table),
			key.TrackID, string(key.Difficulty), key.PlayerName)
		if err != nil {
			return err
		}
		rec, err := pgx.CollectExactlyOneRow(rows, scanRecord(key.Partition))
		found := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var ahead int
		err = tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT
				count(*) FILTER (WHERE
					score > $3 OR (score = $3 AND (
					accuracy_bp > $4 OR (accuracy_bp = $4 AND (
					combo > $5 OR (combo = $5 AND (
					ts_nanos < $6 OR (ts_nanos = $6 AND player_name COLLATE "C" < $7)))))))),
				count(*)
			FROM %s WHERE track_id = $1 AND difficulty = $2`, s.table),
			key.TrackID, string(key.Difficulty),
			rec.Score, rec.AccuracyBP, rec.Combo, rec.Timestamp.UnixNano(), rec.PlayerName,
		).Scan(&ahead, &total)
		if err != nil {
			return err
		}
		if found {
			rank = ahead + 1
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return rank, total, nil
}

// Partitions implements repository.Store.
func (s *Store) Partitions(ctx context.Context) ([]model.Partition, error) {
	if err := s.check(ctx, "partitions"); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT track_id, difficulty FROM %s`, s.table))
	if err != nil {
		return nil, repository.Unavailable("partitions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Partition, error) {
		var p model.Partition
		var diff string
		err := row.Scan(&p.TrackID, &diff)
		p.Difficulty = model.Difficulty(diff)
		return p, err
	})
	if err != nil {
		return nil, repository.Unavailable("partitions", err)
	}
	return out, nil
}

// Ping implements repository.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx, "ping"); err != nil {
		return err
	}
	return repository.Unavailable("ping", s.pool.Ping(ctx))
}

// Close implements repository.Store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}
