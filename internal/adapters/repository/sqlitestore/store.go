// Package sqlitestore is a single-file durable repository.Store on SQLite.
//
// The pool is limited to one connection, so every transaction runs alone and
// read-compare-write sequences are atomic without extra locking.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/ranking"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - score_records with ranking index
const currentSchemaVersion = 1

const rankOrder = `score DESC, accuracy_bp DESC, combo DESC, ts_nanos ASC, player_name ASC`

const selectColumns = `player_name, score, accuracy_bp, combo, ts_nanos`

// Store implements repository.Store on SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ repository.Store = (*Store)(nil)

// Open creates or opens the database at path and applies pragmas and schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, repository.Unavailable("open", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	return repository.CtxErr(ctx, op)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Unavailable(op, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return repository.Unavailable(op, err)
	}
	return repository.Unavailable(op, tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(p model.Partition, row scanner) (model.ScoreRecord, error) {
	rec := model.ScoreRecord{TrackID: p.TrackID, Difficulty: p.Difficulty}
	var ts int64
	err := row.Scan(&rec.PlayerName, &rec.Score, &rec.AccuracyBP, &rec.Combo, &ts)
	rec.Timestamp = time.Unix(0, ts).UTC()
	return rec, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q querier, key model.Key) (model.ScoreRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM score_records
		 WHERE track_id = ? AND difficulty = ? AND player_name = ?`,
		key.TrackID, string(key.Difficulty), key.PlayerName)
	rec, err := scanRecord(key.Partition, row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScoreRecord{}, repository.ErrNotFound
	}
	return rec, err
}

const upsertSQL = `
	INSERT INTO score_records (track_id, difficulty, player_name, score, accuracy_bp, combo, ts_nanos)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (track_id, difficulty, player_name) DO UPDATE SET
		score = excluded.score,
		accuracy_bp = excluded.accuracy_bp,
		combo = excluded.combo,
		ts_nanos = excluded.ts_nanos`

func recordArgs(rec model.ScoreRecord) []any {
	return []any{rec.TrackID, string(rec.Difficulty), rec.PlayerName, rec.Score, rec.AccuracyBP, rec.Combo, rec.Timestamp.UnixNano()}
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, key model.Key) (model.ScoreRecord, error) {
	if err := s.check(ctx, "get"); err != nil {
		return model.ScoreRecord{}, err
	}
	rec, err := getRecord(ctx, s.db, key)
	return rec, repository.Unavailable("get", err)
}

// Put implements repository.Store.
func (s *Store) Put(ctx context.Context, rec model.ScoreRecord) error {
	if err := s.check(ctx, "put"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertSQL, recordArgs(rec)...)
	return repository.Unavailable("put", err)
}

// UpsertBest implements repository.Store.
func (s *Store) UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error) {
	if err := s.check(ctx, "upsert_best"); err != nil {
		return false, err
	}
	var changed bool
	err := s.inTx(ctx, "upsert_best", func(tx *sql.Tx) error {
		old, err := getRecord(ctx, tx, rec.Key())
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case !ranking.StrictlyImproves(rec, old):
			return nil
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, recordArgs(rec)...); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ScanTop implements repository.Store.
func (s *Store) ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error) {
	if err := s.check(ctx, "scan_top"); err != nil {
		return nil, err
	}
	out := []model.ScoreRecord{}
	if limit <= 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM score_records
		 WHERE track_id = ? AND difficulty = ?
		 ORDER BY `+rankOrder+`
		 LIMIT ?`,
		p.TrackID, string(p.Difficulty), limit)
	if err != nil {
		return nil, repository.Unavailable("scan_top", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(p, rows)
		if err != nil {
			return nil, repository.Unavailable("scan_top", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Unavailable("scan_top", err)
	}
	return out, nil
}

// CountPartition implements repository.Store.
func (s *Store) CountPartition(ctx context.Context, p model.Partition) (int, error) {
	if err := s.check(ctx, "count"); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM score_records WHERE track_id = ? AND difficulty = ?`,
		p.TrackID, string(p.Difficulty)).Scan(&n)
	if err != nil {
		return 0, repository.Unavailable("count", err)
	}
	return n, nil
}

// Prune implements repository.Store.
func (s *Store) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	if err := s.check(ctx, "prune"); err != nil {
		return 0, err
	}
	if keep < 0 {
		return 0, repository.ErrInvalidLimit
	}
	// LIMIT -1 means no limit in SQLite; OFFSET requires a LIMIT clause.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM score_records
		 WHERE track_id = ?1 AND difficulty = ?2 AND player_name IN (
			SELECT player_name FROM score_records
			WHERE track_id = ?1 AND difficulty = ?2
			ORDER BY `+rankOrder+`
			LIMIT -1 OFFSET ?3
		 )`,
		p.TrackID, string(p.Difficulty), keep)
	if err != nil {
		return 0, repository.Unavailable("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, repository.Unavailable("prune", err)
	}
	return int(n), nil
}

// RankOf implements repository.Store.
func (s *Store) RankOf(ctx context.Context, key model.Key) (int, int, error) {
	if err := s.check(ctx, "rank_of"); err != nil {
		return 0, 0, err
	}
	var rank, total int
	err := s.inTx(ctx, "rank_of", func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, key)
		found := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		var ahead int
		err = tx.QueryRowContext(ctx,
			`SELECT
				coalesce(sum(CASE WHEN
					score > ?3 OR (score = ?3 AND (
					accuracy_bp > ?4 OR (accuracy_bp = ?4 AND (
					combo > ?5 OR (combo = ?5 AND (
					ts_nanos < ?6 OR (ts_nanos = ?6 AND player_name < ?7)))))))
				THEN 1 ELSE 0 END), 0),
				count(*)
			 FROM score_records WHERE track_id = ?1 AND difficulty = ?2`,
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
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT track_id, difficulty FROM score_records`)
	if err != nil {
		return nil, repository.Unavailable("partitions", err)
	}
	defer rows.Close()

	var out []model.Partition
	for rows.Next() {
		var p model.Partition
		var diff string
		if err := rows.Scan(&p.TrackID, &diff); err != nil {
			return nil, repository.Unavailable("partitions", err)
		}
		p.Difficulty = model.Difficulty(diff)
		out = append(out, p)
	}
	return out, repository.Unavailable("partitions", rows.Err())
}

// Ping implements repository.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx, "ping"); err != nil {
		return err
	}
	return repository.Unavailable("ping", s.db.PingContext(ctx))
}

// Close implements repository.Store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
