package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/rhythmboard/internal/adapters/mq/queue"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/pkg/logger"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// Prune job reasons.
const (
	reasonRetry = "retry"
	reasonSweep = "sweep"
)

// SubmitResult reports the outcome of one submission.
type SubmitResult struct {
	Record   model.ScoreRecord
	Improved bool
	// Rank is nil when the player's record is not retained in the partition.
	Rank  *int
	Total int
}

// RankResult is a player's position within a partition.
type RankResult struct {
	Key   model.Key
	Rank  *int
	Total int
}

// Submit normalizes the submission, keeps it if it strictly improves the
// player's best, prunes the partition and reports the resulting rank.
func (s *Service) Submit(ctx context.Context, in scoring.Input) (SubmitResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSubmitLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if s.store == nil {
		metrics.RecordSubmission(metrics.OutcomeUnconfigured)
		return SubmitResult{}, ErrNotConfigured
	}

	rec, err := s.normalizer.Normalize(in)
	if err != nil {
		metrics.RecordSubmission(metrics.OutcomeInvalid)
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var improved bool
	err = s.withTimeout(ctx, func(ctx context.Context) (err error) {
		improved, err = s.store.UpsertBest(ctx, rec)
		return err
	})
	if err != nil {
		metrics.RecordSubmission(metrics.OutcomeError)
		return SubmitResult{}, storageErr("upsert", err)
	}

	if improved {
		metrics.RecordSubmission(metrics.OutcomeImproved)
		s.pruneAfterWrite(ctx, rec.Partition())
	} else {
		metrics.RecordSubmission(metrics.OutcomeUnchanged)
	}

	rank, err := s.rankOf(ctx, rec.Key())
	if err != nil {
		return SubmitResult{}, err
	}

	s.logger.Debug(ctx, "submission stored",
		logger.String("partition", rec.Partition().String()),
		logger.String("player", rec.PlayerName),
		logger.Int64("score", rec.Score),
		logger.Bool("improved", improved),
		logger.Int("total", rank.Total),
	)

	return SubmitResult{
		Record:   rec,
		Improved: improved,
		Rank:     rank.Rank,
		Total:    rank.Total,
	}, nil
}

// TopN returns up to limit records of the partition, best first. A limit
// below one is treated as one.
func (s *Service) TopN(ctx context.Context, trackID, difficulty string, limit int) ([]model.ScoreRecord, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	track, err := scoring.NormalizeTrackID(trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	p := model.Partition{TrackID: track, Difficulty: model.ParseDifficulty(difficulty)}

	var out []model.ScoreRecord
	err = s.withTimeout(ctx, func(ctx context.Context) (err error) {
		out, err = s.store.ScanTop(ctx, p, max(limit, 1))
		return err
	})
	if err != nil {
		return nil, storageErr("scan_top", err)
	}
	if out == nil {
		out = []model.ScoreRecord{}
	}
	return out, nil
}

// RankOf returns the player's 1-based rank and the partition size.
func (s *Service) RankOf(ctx context.Context, trackID, difficulty, name string) (RankResult, error) {
	if s.store == nil {
		return RankResult{}, ErrNotConfigured
	}
	key, err := s.normalizer.Key(trackID, difficulty, name)
	if err != nil {
		return RankResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return s.rankOf(ctx, key)
}

func (s *Service) rankOf(ctx context.Context, key model.Key) (RankResult, error) {
	var rank, total int
	err := s.withTimeout(ctx, func(ctx context.Context) (err error) {
		rank, total, err = s.store.RankOf(ctx, key)
		return err
	})
	if err != nil {
		return RankResult{}, storageErr("rank_of", err)
	}
	res := RankResult{Key: key, Total: total}
	if rank > 0 {
		res.Rank = &rank
	}
	return res, nil
}

// PrunePartition trims p to the retention bound. It is the job handler of the
// background prune workers and is safe to call concurrently.
func (s *Service) PrunePartition(ctx context.Context, p model.Partition) (int, error) {
	if s.store == nil {
		return 0, ErrNotConfigured
	}
	start := time.Now()
	var deleted int
	err := s.withTimeout(ctx, func(ctx context.Context) (err error) {
		deleted, err = s.store.Prune(ctx, p, s.maxPerPartition)
		return err
	})
	if err != nil {
		metrics.RecordPruneFailure()
		return 0, storageErr("prune", err)
	}
	metrics.RecordPruneRun(deleted, float64(time.Since(start).Microseconds())/1000)
	return deleted, nil
}

// pruneAfterWrite prunes inline so the rank reported to the submitter reflects
// the bounded partition. Failure never fails the submission; the partition is
// handed to the background workers instead.
func (s *Service) pruneAfterWrite(ctx context.Context, p model.Partition) {
	deleted, err := s.PrunePartition(context.WithoutCancel(ctx), p)
	if err != nil {
		s.logger.Warn(ctx, "inline prune failed; scheduling retry",
			logger.String("partition", p.String()),
			logger.Error(err),
		)
		s.schedulePrune(ctx, p, reasonRetry)
		return
	}
	if deleted > 0 {
		s.logger.Debug(ctx, "pruned partition",
			logger.String("partition", p.String()),
			logger.Int("deleted", deleted),
		)
	}
}

// schedulePrune queues a background prune of p unless one is already pending.
func (s *Service) schedulePrune(ctx context.Context, p model.Partition, reason string) bool {
	id := p.String()
	if s.pending.SeenAndRecord(ctx, id) {
		metrics.RecordQueueCoalesced()
		return false
	}
	if !s.pruneQueue.Enqueue(ctx, queue.Job{Partition: p, Reason: reason}) {
		s.pending.Unrecord(ctx, id)
		s.logger.Warn(ctx, "prune queue rejected job",
			logger.String("partition", id),
			logger.String("reason", reason),
		)
		return false
	}
	return true
}

// enqueueSweep schedules a background prune of every known partition.
func (s *Service) enqueueSweep(ctx context.Context) {
	parts, err := s.partitions(ctx)
	if err != nil {
		s.logger.Warn(ctx, "prune sweep could not list partitions", logger.Error(err))
		return
	}
	queued := 0
	for _, p := range parts {
		if s.schedulePrune(ctx, p, reasonSweep) {
			queued++
		}
	}
	s.logger.Debug(ctx, "prune sweep scheduled",
		logger.Int("partitions", len(parts)),
		logger.Int("queued", queued),
	)
}

// SweepResult summarizes a synchronous prune pass.
type SweepResult struct {
	Partitions int `json:"partitions"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
}

// Sweep prunes every partition in the calling goroutine. Individual failures
// are counted and logged; only a failure to list partitions is returned.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	if s.store == nil {
		return SweepResult{}, ErrNotConfigured
	}
	parts, err := s.partitions(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Partitions: len(parts)}
	for _, p := range parts {
		n, err := s.PrunePartition(ctx, p)
		if err != nil {
			res.Failed++
			s.logger.Warn(ctx, "prune failed",
				logger.String("partition", p.String()),
				logger.Error(err),
			)
			continue
		}
		res.Deleted += n
	}
	return res, nil
}
