package loadgen

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rhythmboard/internal/adapters/http/api"
	"github.com/okian/rhythmboard/internal/adapters/repository"
	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

func testServer(maxPerPartition int) *httptest.Server {
	svc := service.New(
		service.WithStore(repository.NewTreapStore(), "memory"),
		service.WithMaxPerPartition(maxPerPartition),
		service.WithLogger(logger.Nop()),
	)
	mux := http.NewServeMux()
	api.NewServer(svc, api.WithLogger(logger.Nop())).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func smallConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Tracks = 3
	cfg.Players = 25
	cfg.Attempts = 3
	cfg.Workers = 4
	cfg.RankChecks = 25
	cfg.Seed = 42
	return cfg
}

func TestRun(t *testing.T) {
	Convey("Given a live leaderboard server", t, func() {
		srv := testServer(10)
		defer srv.Close()

		Convey("When a load run completes", func() {
			cfg := smallConfig(srv.URL)
			cfg.OutputFile = filepath.Join(t.TempDir(), "out", "subs.json")
			stats, err := Run(context.Background(), cfg, logger.Nop())

			Convey("Then every board is consistent", func() {
				So(err, ShouldBeNil)
				So(stats.Submitted, ShouldEqual, 3*25*3)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Violations, ShouldEqual, 0)
				So(stats.MaxPerPartition, ShouldEqual, 10)
				So(stats.BoardEntries, ShouldEqual, 3*10)
				So(stats.RanksChecked, ShouldEqual, 3*25)
				So(stats.Improved, ShouldBeGreaterThanOrEqualTo, 3*25)
			})
		})

		Convey("When the read limit is below the retained window", func() {
			cfg := smallConfig(srv.URL)
			cfg.Limit = 4
			stats, err := Run(context.Background(), cfg, logger.Nop())

			So(err, ShouldBeNil)
			So(stats.BoardEntries, ShouldEqual, 3*4)
		})
	})

	Convey("Given an unreachable server", t, func() {
		srv := testServer(10)
		srv.Close()

		_, err := Run(context.Background(), smallConfig(srv.URL), logger.Nop())
		So(err, ShouldNotBeNil)
	})

	Convey("Given an invalid config", t, func() {
		cfg := smallConfig("http://localhost:1")
		cfg.Workers = 0

		_, err := Run(context.Background(), cfg, nil)
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		cfg := smallConfig("http://x")
		plan := Generate(cfg, rand.New(rand.NewPCG(1, 2)))

		Convey("Then it produces one attempt per player and try", func() {
			So(len(plan.Partitions), ShouldEqual, 3)
			So(len(plan.Submissions), ShouldEqual, 3*25*3)
		})

		Convey("And every value survives normalization unchanged", func() {
			for _, s := range plan.Submissions {
				So(len(s.Name), ShouldBeLessThanOrEqualTo, model.MaxPlayerNameLen)
				So(s.Acc, ShouldBeBetweenOrEqual, 0.0, 1.0)
				So(s.Score, ShouldBeBetweenOrEqual, 0.0, float64(model.MaxScore))
			}
		})

		Convey("And partitions cycle through difficulties", func() {
			So(plan.Partitions[0].Difficulty, ShouldEqual, model.Easy)
			So(plan.Partitions[1].Difficulty, ShouldEqual, model.Normal)
			So(plan.Partitions[2].Difficulty, ShouldEqual, model.Hard)
		})

		Convey("And the reference keeps one best per player", func() {
			ref := BuildReference(plan.Submissions)
			for _, p := range plan.Partitions {
				So(len(ref[p]), ShouldEqual, 25)
				So(ref.Retained(p, 10), ShouldEqual, 10)
			}
		})
	})
}

func TestVerifyBoard(t *testing.T) {
	p := model.Partition{TrackID: "neon", Difficulty: model.Hard}
	subs := []types.SubmitRequest{
		{TrackID: "neon", Difficulty: "hard", Name: "a", Score: 900, Acc: 0.9, Combo: 10},
		{TrackID: "neon", Difficulty: "hard", Name: "a", Score: 950, Acc: 0.8, Combo: 5},
		{TrackID: "neon", Difficulty: "hard", Name: "b", Score: 950, Acc: 0.95, Combo: 5},
		{TrackID: "neon", Difficulty: "hard", Name: "c", Score: 100, Acc: 1, Combo: 1},
	}
	ref := BuildReference(subs)
	ts := time.Now().UnixMilli()
	b := types.Entry{Name: "b", Score: 950, Acc: 0.95, Combo: 5, Timestamp: ts}
	a := types.Entry{Name: "a", Score: 950, Acc: 0.8, Combo: 5, Timestamp: ts}
	c := types.Entry{Name: "c", Score: 100, Acc: 1, Combo: 1, Timestamp: ts}

	Convey("Given the reference of a small partition", t, func() {
		Convey("A correct board passes", func() {
			So(VerifyBoard(p, ref, []types.Entry{b, a, c}, 10, 50), ShouldBeEmpty)
			So(VerifyBoard(p, ref, []types.Entry{b, a}, 2, 50), ShouldBeEmpty)
			So(VerifyBoard(p, ref, []types.Entry{b}, 10, 1), ShouldBeEmpty)
		})

		Convey("A misordered board fails", func() {
			errs := VerifyBoard(p, ref, []types.Entry{a, b, c}, 10, 50)
			So(errs, ShouldNotBeEmpty)
			So(errors.Is(errs[0], ErrViolation), ShouldBeTrue)
		})

		Convey("A stale best fails", func() {
			stale := a
			stale.Score = 900
			stale.Acc = 0.9
			stale.Combo = 10
			So(VerifyBoard(p, ref, []types.Entry{b, c, stale}, 10, 50), ShouldNotBeEmpty)
		})

		Convey("A wrongly pruned player fails", func() {
			So(VerifyBoard(p, ref, []types.Entry{b, c}, 2, 50), ShouldNotBeEmpty)
		})

		Convey("An oversized board fails", func() {
			So(VerifyBoard(p, ref, []types.Entry{b, a, c}, 2, 50), ShouldNotBeEmpty)
		})

		Convey("A duplicated player fails", func() {
			So(VerifyBoard(p, ref, []types.Entry{b, b, a}, 10, 50), ShouldNotBeEmpty)
		})

		Convey("Rank answers are checked against the board", func() {
			board := []types.Entry{b, a}
			one, two := 1, 2

			So(VerifyRank(p, ref, board, types.RankResponse{Name: "a", Rank: &two, Total: 2}, 2), ShouldBeNil)
			So(VerifyRank(p, ref, board, types.RankResponse{Name: "c", Total: 2}, 2), ShouldBeNil)
			So(VerifyRank(p, ref, board, types.RankResponse{Name: "a", Rank: &one, Total: 2}, 2), ShouldNotBeNil)
			So(VerifyRank(p, ref, board, types.RankResponse{Name: "c", Rank: &two, Total: 2}, 2), ShouldNotBeNil)
			So(VerifyRank(p, ref, board, types.RankResponse{Name: "a", Rank: &two, Total: 3}, 2), ShouldNotBeNil)
		})
	})
}

func TestRankSample(t *testing.T) {
	Convey("Given a partition with many players", t, func() {
		p := model.Partition{TrackID: "neon", Difficulty: model.Normal}
		ref := Reference{p: {}}
		for i := range 10 {
			ref[p][PlayerName(i, "run")] = model.ScoreRecord{}
		}

		So(len(rankSample(ref, p, 3)), ShouldEqual, 3)
		So(len(rankSample(ref, p, 50)), ShouldEqual, 10)
		So(rankSample(ref, p, 0), ShouldBeEmpty)
		So(rankSample(ref, model.Partition{TrackID: "none"}, 3), ShouldBeEmpty)
	})
}
