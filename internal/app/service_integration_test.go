package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/adapters/repository/redisstore"
	"github.com/okian/rhythmboard/internal/adapters/repository/sqlitestore"
	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func backends(t *testing.T) map[string]func() repository.Store {
	return map[string]func() repository.Store{
		"memory": func() repository.Store {
			return repository.Instrument(repository.NewTreapStore(), "memory")
		},
		"redis": func() repository.Store {
			mr := miniredis.RunT(t)
			s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			return repository.Instrument(s, "redis")
		},
		"sqlite": func() repository.Store {
			s, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "scores.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return repository.Instrument(s, "sqlite")
		},
	}
}

func TestServiceIntegration(t *testing.T) {
	for name, open := range backends(t) {
		Convey("Given a service on the "+name+" backend", t, func() {
			ctx := context.Background()
			store := open()
			defer func() { _ = store.Close() }()

			svc := newService(store, service.WithMaxPerPartition(5), service.WithPruneWorkers(2))
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop(ctx)

			Convey("When players submit across two partitions", func() {
				for i := 1; i <= 8; i++ {
					for _, diff := range []string{"easy", "hard"} {
						_, err := svc.Submit(ctx, scoring.Input{
							TrackID: "neon", Difficulty: diff, Name: fmt.Sprintf("p%d", i),
							Score: float64(i * 1000), Accuracy: 0.9, Combo: float64(i),
						})
						So(err, ShouldBeNil)
					}
				}

				Convey("Then each partition holds only its best five", func() {
					for _, diff := range []string{"easy", "hard"} {
						top, err := svc.TopN(ctx, "neon", diff, 50)
						So(err, ShouldBeNil)
						So(names(top), ShouldResemble, []string{"p8", "p7", "p6", "p5", "p4"})
					}

					st, err := svc.Stats(ctx)
					So(err, ShouldBeNil)
					So(st.Partitions, ShouldEqual, 2)
					So(st.Records, ShouldEqual, 10)
				})

				Convey("Then ranks follow the ranking", func() {
					rank, err := svc.RankOf(ctx, "neon", "hard", "p6")
					So(err, ShouldBeNil)
					So(*rank.Rank, ShouldEqual, 3)
					So(rank.Total, ShouldEqual, 5)

					rank, err = svc.RankOf(ctx, "neon", "hard", "p1")
					So(err, ShouldBeNil)
					So(rank.Rank, ShouldBeNil)
				})

				Convey("Then an improvement moves the player up", func() {
					res, err := svc.Submit(ctx, scoring.Input{
						TrackID: "neon", Difficulty: "hard", Name: "p4", Score: 99_000, Accuracy: 0.5, Combo: 2,
					})
					So(err, ShouldBeNil)
					So(res.Improved, ShouldBeTrue)
					So(*res.Rank, ShouldEqual, 1)

					got, err := store.Get(ctx, key("p4"))
					So(err, ShouldBeNil)
					So(got.Score, ShouldEqual, int64(99_000))
					So(got.AccuracyBP, ShouldEqual, int32(5000))
					So(got.Combo, ShouldEqual, int32(2))
				})
			})

			Convey("When one player submits concurrently", func() {
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := svc.Submit(ctx, scoring.Input{
							TrackID: "neon", Difficulty: "hard", Name: "ace",
							Score: float64(100 + i), Accuracy: float64(i) / 10, Combo: float64(i),
						})
						if err != nil {
							t.Errorf("%s submit %d: %v", name, i, err)
						}
					}(i)
				}
				wg.Wait()

				Convey("Then the stored record is exactly the best submission", func() {
					got, err := store.Get(ctx, key("ace"))
					So(err, ShouldBeNil)
					So(got.Score, ShouldEqual, int64(109))
					So(got.AccuracyBP, ShouldEqual, int32(9000))
					So(got.Combo, ShouldEqual, int32(9))
				})
			})
		})
	}
}
