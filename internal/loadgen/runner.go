package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

const progressInterval = time.Second

// Run executes a complete load run: generate, submit, read back and verify.
// It returns an error wrapping ErrViolation when any board is inconsistent.
func Run(ctx context.Context, cfg Config, log logger.Logger) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	if err := cfg.Validate(); err != nil {
		return stats, err
	}
	if log == nil {
		log = logger.Nop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(stats.StartTime.UnixNano())
	}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("tracks", cfg.Tracks),
		logger.Int("players", cfg.Players),
		logger.Int("attempts", cfg.Attempts),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", seed),
	)

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Ready(ctx); err != nil {
		return stats, fmt.Errorf("service not ready: %w", err)
	}
	server, err := client.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read server stats: %w", err)
	}
	stats.MaxPerPartition = server.MaxPerPartition
	log.Info(ctx, "service is ready",
		logger.String("backend", server.Backend),
		logger.Int("maxPerPartition", server.MaxPerPartition),
	)

	plan := Generate(cfg, rand.New(rand.NewPCG(seed, seed>>1|1))) //nolint:gosec // reproducible workload, not security sensitive
	stats.Partitions = len(plan.Partitions)
	if cfg.OutputFile != "" {
		if err := saveSubmissions(cfg.OutputFile, plan.Submissions); err != nil {
			log.Warn(ctx, "failed to save submissions", logger.Error(err))
		}
	}

	stored := submitAll(ctx, cfg, log, client, plan.Submissions, &stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("load run interrupted: %w", err)
	}

	ref := BuildReference(stored)
	var violations []error
	for _, p := range plan.Partitions {
		errs, err := checkPartition(ctx, cfg, client, ref, p, &stats)
		if err != nil {
			return stats, err
		}
		violations = append(violations, errs...)
	}
	stats.Violations = len(violations)
	stats.Duration = time.Since(stats.StartTime)

	for _, v := range violations {
		log.Error(ctx, "verification failed", logger.Error(v))
	}
	log.Info(ctx, "load run finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("improved", stats.Improved),
		logger.Int("failed", stats.Failed),
		logger.Int("boardEntries", stats.BoardEntries),
		logger.Int("ranksChecked", stats.RanksChecked),
		logger.Int("violations", stats.Violations),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submitsPerSecond", stats.SubmitsPerSecond()),
	)

	if len(violations) > 0 {
		return stats, fmt.Errorf("%w: %d problems, first: %w", ErrViolation, len(violations), violations[0])
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d of %d submissions failed", stats.Failed, stats.Submitted)
	}
	return stats, nil
}

// submitAll posts subs with cfg.Workers goroutines and returns the
// submissions the server acknowledged.
func submitAll(ctx context.Context, cfg Config, log logger.Logger, client *Client, subs []types.SubmitRequest, stats *Stats) []types.SubmitRequest {
	var (
		mu     sync.Mutex
		stored = make([]types.SubmitRequest, 0, len(subs))

		submitted, accepted, improved, failed atomic.Int64
		lastReport                            atomic.Int64
		wg                                    sync.WaitGroup
	)
	jobs := make(chan types.SubmitRequest, cfg.Workers*2)

	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				res, err := client.Submit(ctx, req)
				submitted.Add(1)
				switch {
				case err != nil:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "submit failed", logger.String("name", req.Name), logger.Error(err))
					}
				default:
					accepted.Add(1)
					mu.Lock()
					stored = append(stored, req)
					mu.Unlock()
					if res.Improved {
						improved.Add(1)
					}
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("submitted", submitted.Load()),
						logger.Int("of", len(subs)),
						logger.Int64("failed", failed.Load()),
					)
				}
			}
		}()
	}

	func() {
		defer close(jobs)
		for _, s := range subs {
			select {
			case <-ctx.Done():
				return
			case jobs <- s:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Improved = int(improved.Load())
	stats.Failed = int(failed.Load())
	return stored
}

// checkPartition reads p back, verifies the board and spot checks ranks of
// retained and pruned players.
func checkPartition(ctx context.Context, cfg Config, client *Client, ref Reference, p model.Partition, stats *Stats) ([]error, error) {
	entries, err := client.Leaderboard(ctx, p, cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read board %s: %w", p, err)
	}
	stats.BoardEntries += len(entries)
	errs := VerifyBoard(p, ref, entries, stats.MaxPerPartition, cfg.Limit)

	for _, name := range rankSample(ref, p, cfg.RankChecks) {
		res, err := client.Rank(ctx, p, name)
		if err != nil {
			return errs, fmt.Errorf("failed to read rank of %q in %s: %w", name, p, err)
		}
		stats.RanksChecked++
		if err := VerifyRank(p, ref, entries, res, stats.MaxPerPartition); err != nil {
			errs = append(errs, err)
		}
	}
	return errs, nil
}

// rankSample picks n players spread evenly over the sorted player list.
func rankSample(ref Reference, p model.Partition, n int) []string {
	names := make([]string, 0, len(ref[p]))
	for name := range ref[p] {
		names = append(names, name)
	}
	slices.Sort(names)
	if n <= 0 || len(names) == 0 {
		return nil
	}
	if n >= len(names) {
		return names
	}
	out := make([]string, 0, n)
	step := float64(len(names)) / float64(n)
	for i := range n {
		out = append(out, names[int(float64(i)*step)])
	}
	return out
}

func saveSubmissions(filename string, subs []types.SubmitRequest) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submissions: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write submissions: %w", err)
	}
	return nil
}
