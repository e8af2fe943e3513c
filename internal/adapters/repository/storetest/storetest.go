// Package storetest is a conformance suite shared by every repository.Store
// backend.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/ranking"
)

// Factory returns an empty store. Run closes it when each subtest ends.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed test epoch

// Rec builds a record on the "neon" normal chart.
func Rec(name string, score int64, acc, combo int32, offset time.Duration) model.ScoreRecord {
	return model.ScoreRecord{
		TrackID:    "neon",
		Difficulty: model.Normal,
		PlayerName: name,
		Score:      score,
		AccuracyBP: acc,
		Combo:      combo,
		Timestamp:  base.Add(offset),
	}
}

// RequireSameRecord compares records field by field, timestamps by instant.
func RequireSameRecord(t *testing.T, want, got model.ScoreRecord) {
	t.Helper()
	require.Equal(t, want.TrackID, got.TrackID)
	require.Equal(t, want.Difficulty, got.Difficulty)
	require.Equal(t, want.PlayerName, got.PlayerName)
	require.Equal(t, want.Score, got.Score)
	require.Equal(t, want.AccuracyBP, got.AccuracyBP)
	require.Equal(t, want.Combo, got.Combo)
	require.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp: want %s got %s", want.Timestamp, got.Timestamp)
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repository.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"UpsertBestNew", testUpsertBestNew},
		{"UpsertBestInferiorIsNoop", testUpsertBestInferior},
		{"UpsertBestEqualIsNoop", testUpsertBestEqual},
		{"UpsertBestImproves", testUpsertBestImproves},
		{"ScanTopOrder", testScanTopOrder},
		{"ScanTopLimits", testScanTopLimits},
		{"RankOf", testRankOf},
		{"Prune", testPrune},
		{"PartitionIsolation", testPartitionIsolation},
		{"Partitions", testPartitions},
		{"ConcurrentUpsert", testConcurrentUpsert},
		{"ConcurrentDistinctPlayers", testConcurrentDistinctPlayers},
		{"Closed", testClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s repository.Store) {
	_, err := s.Get(context.Background(), Rec("ghost", 0, 0, 0, 0).Key())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testPutGet(t *testing.T, s repository.Store) {
	ctx := context.Background()
	want := Rec("DJ <3", 987_654_321, 9731, 412, 1234567*time.Nanosecond)
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, want.Key())
	require.NoError(t, err)
	RequireSameRecord(t, want, got)

	// Put overwrites even with a worse result.
	worse := Rec("DJ <3", 1, 0, 0, time.Hour)
	require.NoError(t, s.Put(ctx, worse))
	got, err = s.Get(ctx, want.Key())
	require.NoError(t, err)
	RequireSameRecord(t, worse, got)

	n, err := s.CountPartition(ctx, want.Partition())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testUpsertBestNew(t *testing.T, s repository.Store) {
	ctx := context.Background()
	rec := Rec("kai", 500, 9000, 50, 0)
	changed, err := s.UpsertBest(ctx, rec)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	RequireSameRecord(t, rec, got)
}

func testUpsertBestInferior(t *testing.T, s repository.Store) {
	ctx := context.Background()
	best := Rec("kai", 1000, 9500, 90, 0)
	_, err := s.UpsertBest(ctx, best)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		changed, err := s.UpsertBest(ctx, Rec("kai", 999, 10000, 9999, time.Duration(i+1)*time.Second))
		require.NoError(t, err)
		require.False(t, changed)
	}

	got, err := s.Get(ctx, best.Key())
	require.NoError(t, err)
	RequireSameRecord(t, best, got)
}

func testUpsertBestEqual(t *testing.T, s repository.Store) {
	ctx := context.Background()
	best := Rec("kai", 1000, 9500, 90, 0)
	_, err := s.UpsertBest(ctx, best)
	require.NoError(t, err)

	changed, err := s.UpsertBest(ctx, best)
	require.NoError(t, err)
	require.False(t, changed)

	// Same result later in time ranks behind the stored one.
	changed, err = s.UpsertBest(ctx, Rec("kai", 1000, 9500, 90, time.Minute))
	require.NoError(t, err)
	require.False(t, changed)

	got, err := s.Get(ctx, best.Key())
	require.NoError(t, err)
	RequireSameRecord(t, best, got)
}

func testUpsertBestImproves(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, err := s.UpsertBest(ctx, Rec("kai", 1000, 9500, 90, 0))
	require.NoError(t, err)

	// A higher score wins even though accuracy and combo are worse.
	better := Rec("kai", 1500, 9000, 80, time.Hour)
	changed, err := s.UpsertBest(ctx, better)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := s.Get(ctx, better.Key())
	require.NoError(t, err)
	RequireSameRecord(t, better, got)

	n, err := s.CountPartition(ctx, better.Partition())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testScanTopOrder(t *testing.T, s repository.Store) {
	ctx := context.Background()
	recs := []model.ScoreRecord{
		Rec("a", 100, 9500, 80, 0),
		Rec("b", 100, 9500, 90, time.Second), // combo beats a
		Rec("c", 100, 9600, 10, 2*time.Second),
		Rec("d", 200, 1000, 1, 3*time.Second),
		Rec("e", 100, 9500, 80, -time.Second), // earlier than a
		Rec("f", 100, 9500, 80, 0),            // identical to a, name breaks it
	}
	for _, r := range recs {
		_, err := s.UpsertBest(ctx, r)
		require.NoError(t, err)
	}

	got, err := s.ScanTop(ctx, recs[0].Partition(), 10)
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, r := range got {
		names[i] = r.PlayerName
	}
	assert.Equal(t, []string{"d", "c", "b", "e", "a", "f"}, names)

	sorted := append([]model.ScoreRecord(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return ranking.Less(sorted[i], sorted[j]) })
	for i := range sorted {
		RequireSameRecord(t, sorted[i], got[i])
	}
}

func testScanTopLimits(t *testing.T, s repository.Store) {
	ctx := context.Background()
	p := model.Partition{TrackID: "neon", Difficulty: model.Normal}

	got, err := s.ScanTop(ctx, p, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)

	for i := 0; i < 5; i++ {
		_, err := s.UpsertBest(ctx, Rec(fmt.Sprintf("p%d", i), int64(i*10), 0, 0, 0))
		require.NoError(t, err)
	}

	got, err = s.ScanTop(ctx, p, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "p4", got[0].PlayerName)

	got, err = s.ScanTop(ctx, p, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testRankOf(t *testing.T, s repository.Store) {
	ctx := context.Background()
	for i, name := range []string{"A", "B", "C", "D"} {
		_, err := s.UpsertBest(ctx, Rec(name, int64(400-i*100), 9000, 10, 0))
		require.NoError(t, err)
	}

	rank, total, err := s.RankOf(ctx, Rec("C", 0, 0, 0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, 3, rank)
	assert.Equal(t, 4, total)

	rank, total, err = s.RankOf(ctx, Rec("A", 0, 0, 0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	assert.Equal(t, 4, total)

	rank, total, err = s.RankOf(ctx, Rec("nobody", 0, 0, 0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
	assert.Equal(t, 4, total)

	rank, total, err = s.RankOf(ctx, model.Key{Partition: model.Partition{TrackID: "void", Difficulty: model.Hard}, PlayerName: "A"})
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
	assert.Equal(t, 0, total)
}

func testPrune(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const keep = 20
	for i := 0; i < keep+5; i++ {
		_, err := s.UpsertBest(ctx, Rec(fmt.Sprintf("p%02d", i), int64(1000-i), 9000, 10, 0))
		require.NoError(t, err)
	}
	p := Rec("x", 0, 0, 0, 0).Partition()

	deleted, err := s.Prune(ctx, p, keep)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	n, err := s.CountPartition(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, keep, n)

	top, err := s.ScanTop(ctx, p, 100)
	require.NoError(t, err)
	require.Len(t, top, keep)
	assert.Equal(t, "p00", top[0].PlayerName)
	assert.Equal(t, fmt.Sprintf("p%02d", keep-1), top[keep-1].PlayerName)

	_, err = s.Get(ctx, Rec(fmt.Sprintf("p%02d", keep), 0, 0, 0, 0).Key())
	require.ErrorIs(t, err, repository.ErrNotFound)

	// Nothing left to prune.
	deleted, err = s.Prune(ctx, p, keep)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	deleted, err = s.Prune(ctx, model.Partition{TrackID: "void", Difficulty: model.Easy}, keep)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func testPartitionIsolation(t *testing.T, s repository.Store) {
	ctx := context.Background()
	normal := Rec("kai", 100, 0, 0, 0)
	hard := normal
	hard.Difficulty = model.Hard
	hard.Score = 50
	other := normal
	other.TrackID = "neon-2"
	other.Score = 10

	for _, r := range []model.ScoreRecord{normal, hard, other} {
		changed, err := s.UpsertBest(ctx, r)
		require.NoError(t, err)
		require.True(t, changed)
	}

	for _, r := range []model.ScoreRecord{normal, hard, other} {
		got, err := s.Get(ctx, r.Key())
		require.NoError(t, err)
		RequireSameRecord(t, r, got)
		n, err := s.CountPartition(ctx, r.Partition())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	deleted, err := s.Prune(ctx, normal.Partition(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = s.Get(ctx, hard.Key())
	require.NoError(t, err)
}

func testPartitions(t *testing.T, s repository.Store) {
	ctx := context.Background()
	a := Rec("kai", 1, 0, 0, 0)
	b := a
	b.Difficulty = model.Easy
	for _, r := range []model.ScoreRecord{a, b} {
		_, err := s.UpsertBest(ctx, r)
		require.NoError(t, err)
	}

	parts, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Partition{a.Partition(), b.Partition()}, parts)
}

func testConcurrentUpsert(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				score := int64(w*perWriter + i)
				if _, err := s.UpsertBest(ctx, Rec("kai", score, 0, 0, time.Duration(score))); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, Rec("kai", 0, 0, 0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter-1), got.Score)

	n, err := s.CountPartition(ctx, got.Partition())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Writers for different players on one chart are independent: none of them
// may fail, and rank reads running alongside must keep succeeding.
func testConcurrentDistinctPlayers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const players = 64
	const perPlayer = 10

	var wg sync.WaitGroup
	errs := make(chan error, players*perPlayer*2)
	for w := 0; w < players; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("p%02d", w)
			for i := 0; i < perPlayer; i++ {
				r := Rec(name, int64(w*perPlayer+i), 0, 0, time.Duration(i))
				if _, err := s.UpsertBest(ctx, r); err != nil {
					errs <- err
				}
				if _, _, err := s.RankOf(ctx, r.Key()); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p := Rec("", 0, 0, 0, 0).Partition()
	n, err := s.CountPartition(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, players, n)

	top, err := s.ScanTop(ctx, p, players)
	require.NoError(t, err)
	require.Len(t, top, players)
	for i, r := range top {
		assert.Equal(t, fmt.Sprintf("p%02d", players-1-i), r.PlayerName)
		assert.Equal(t, int64((players-1-i)*perPlayer+perPlayer-1), r.Score)
	}

	rank, total, err := s.RankOf(ctx, Rec("p00", 0, 0, 0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, players, rank)
	assert.Equal(t, players, total)
}

func testClosed(t *testing.T, s repository.Store) {
	require.NoError(t, s.Close())
	_, err := s.UpsertBest(context.Background(), Rec("kai", 1, 0, 0, 0))
	require.ErrorIs(t, err, repository.ErrUnavailable)
	require.NoError(t, s.Close())
}
