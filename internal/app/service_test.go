package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(logger.WithFormat("text")); err != nil {
		panic(err)
	}
}

var base = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

// stepClock advances one millisecond per reading so every submission gets a
// distinct, increasing timestamp.
type stepClock struct{ n atomic.Int64 }

func (c *stepClock) Now() time.Time {
	return base.Add(time.Duration(c.n.Add(1)) * time.Millisecond)
}

func newService(store repository.Store, opts ...service.Option) *service.Service {
	clock := &stepClock{}
	all := append([]service.Option{
		service.WithStore(store, "memory"),
		service.WithNormalizer(scoring.NewNormalizer(scoring.WithClock(clock.Now))),
		service.WithLogger(logger.Nop()),
		service.WithStatsInterval(0),
	}, opts...)
	return service.New(all...)
}

func submit(svc *service.Service, name string, score, acc, combo float64) service.SubmitResult {
	res, err := svc.Submit(context.Background(), scoring.Input{
		TrackID: "neon", Difficulty: "hard", Name: name, Score: score, Accuracy: acc, Combo: combo,
	})
	So(err, ShouldBeNil)
	return res
}

func names(recs []model.ScoreRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.PlayerName
	}
	return out
}

var neonHard = model.Partition{TrackID: "neon", Difficulty: model.Hard}

func key(name string) model.Key {
	return model.Key{Partition: neonHard, PlayerName: name}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_Submit(t *testing.T) {
	Convey("Given a service over an in-memory store", t, func() {
		ctx := context.Background()
		store := repository.NewTreapStore()
		svc := newService(store, service.WithMaxPerPartition(10))

		Convey("When an inferior score is resubmitted", func() {
			first := submit(svc, "ace", 100, 0.9, 50)
			second := submit(svc, "ace", 50, 1, 999)

			Convey("Then the stored record is untouched", func() {
				So(first.Improved, ShouldBeTrue)
				So(second.Improved, ShouldBeFalse)
				So(*second.Rank, ShouldEqual, 1)
				So(second.Total, ShouldEqual, 1)

				got, err := store.Get(ctx, key("ace"))
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, int64(100))
				So(got.Timestamp, ShouldEqual, first.Record.Timestamp)
			})
		})

		Convey("When an identical score is resubmitted", func() {
			first := submit(svc, "ace", 100, 0.9, 50)
			second := submit(svc, "ace", 100, 0.9, 50)

			Convey("Then the earlier record keeps its timestamp", func() {
				So(second.Improved, ShouldBeFalse)
				got, err := store.Get(ctx, key("ace"))
				So(err, ShouldBeNil)
				So(got.Timestamp, ShouldEqual, first.Record.Timestamp)
			})
		})

		Convey("When a better score arrives with worse accuracy and combo", func() {
			submit(svc, "ace", 100, 0.95, 90)
			res := submit(svc, "ace", 150, 0.9, 80)

			Convey("Then every field is replaced together", func() {
				So(res.Improved, ShouldBeTrue)
				got, err := store.Get(ctx, key("ace"))
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, int64(150))
				So(got.AccuracyBP, ShouldEqual, int32(9000))
				So(got.Combo, ShouldEqual, int32(80))
				So(got.Timestamp, ShouldEqual, res.Record.Timestamp)
			})
		})

		Convey("When records tie on score and accuracy", func() {
			submit(svc, "early", 500, 0.9, 10)
			submit(svc, "combo", 500, 0.9, 20)
			submit(svc, "late", 500, 0.9, 10)

			Convey("Then combo breaks the tie and then the earlier timestamp", func() {
				top, err := svc.TopN(ctx, "neon", "hard", 10)
				So(err, ShouldBeNil)
				So(names(top), ShouldResemble, []string{"combo", "early", "late"})
			})
		})

		Convey("When more players than the retention bound submit", func() {
			order := []int{7, 3, 15, 1, 12, 9, 5, 14, 2, 11, 6, 13, 4, 10, 8}
			for _, score := range order {
				submit(svc, fmt.Sprintf("p%02d", score), float64(score*100), 0.5, 1)
			}

			Convey("Then exactly the best ones are kept", func() {
				n, err := store.CountPartition(ctx, neonHard)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 10)

				top, err := svc.TopN(ctx, "neon", "hard", 200)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 10)
				for i, rec := range top {
					So(rec.Score, ShouldEqual, int64((15-i)*100))
				}
			})
		})

		Convey("When a submission ranks below the retained window", func() {
			for i := 1; i <= 10; i++ {
				submit(svc, fmt.Sprintf("p%02d", i), float64(i*100), 0.5, 1)
			}
			res := submit(svc, "last", 1, 0, 0)

			Convey("Then it is stored, pruned and reported without a rank", func() {
				So(res.Improved, ShouldBeTrue)
				So(res.Rank, ShouldBeNil)
				So(res.Total, ShouldEqual, 10)
				_, err := store.Get(ctx, key("last"))
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When four players are ranked A, B, C, D", func() {
			submit(svc, "A", 400, 0.5, 1)
			submit(svc, "B", 300, 0.5, 1)
			res := submit(svc, "C", 200, 0.5, 1)
			submit(svc, "D", 100, 0.5, 1)

			Convey("Then C is third of four", func() {
				So(*res.Rank, ShouldEqual, 3)
				So(res.Total, ShouldEqual, 3)

				rank, err := svc.RankOf(ctx, "neon", "hard", "C")
				So(err, ShouldBeNil)
				So(*rank.Rank, ShouldEqual, 3)
				So(rank.Total, ShouldEqual, 4)
			})

			Convey("And an unknown player has no rank", func() {
				rank, err := svc.RankOf(ctx, "neon", "hard", "E")
				So(err, ShouldBeNil)
				So(rank.Rank, ShouldBeNil)
				So(rank.Total, ShouldEqual, 4)
			})

			Convey("And the lookup name is sanitized like a submission", func() {
				rank, err := svc.RankOf(ctx, " neon ", "HARD", " <A> ")
				So(err, ShouldBeNil)
				So(*rank.Rank, ShouldEqual, 1)
			})
		})

		Convey("When trackId is missing", func() {
			_, err := svc.Submit(ctx, scoring.Input{Name: "ace", Score: 100})

			Convey("Then it is rejected without touching storage", func() {
				So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
				parts, err := store.Partitions(ctx)
				So(err, ShouldBeNil)
				So(parts, ShouldBeEmpty)
			})
		})

		Convey("When accuracy is above one", func() {
			res := submit(svc, "ace", 100, 1.4, 10)

			Convey("Then it is clamped to a perfect score", func() {
				So(res.Record.AccuracyBP, ShouldEqual, int32(model.AccuracyScale))
				got, err := store.Get(ctx, key("ace"))
				So(err, ShouldBeNil)
				So(got.AccuracyBP, ShouldEqual, int32(10000))
			})
		})

		Convey("When the difficulty is omitted", func() {
			res, err := svc.Submit(ctx, scoring.Input{TrackID: "neon", Name: "ace", Score: 1})
			So(err, ShouldBeNil)

			Convey("Then the record lands in the normal partition", func() {
				So(res.Record.Difficulty, ShouldEqual, model.Normal)
			})
		})

		Convey("When reading an empty partition", func() {
			top, err := svc.TopN(ctx, "cold", "easy", 50)

			Convey("Then an empty list is returned", func() {
				So(err, ShouldBeNil)
				So(top, ShouldNotBeNil)
				So(top, ShouldBeEmpty)
			})
		})

		Convey("When reading with a blank track", func() {
			_, err := svc.TopN(ctx, "  ", "easy", 50)
			So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestService_ConcurrentSubmit(t *testing.T) {
	Convey("Given many concurrent submissions for one player", t, func() {
		store := repository.NewTreapStore()
		svc := newService(store)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.Submit(context.Background(), scoring.Input{
					TrackID: "neon", Difficulty: "hard", Name: "ace",
					Score: float64(i), Accuracy: float64(i) / 100, Combo: float64(i),
				})
				if err != nil {
					t.Errorf("submit %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		Convey("Then the best submission wins with all of its own fields", func() {
			got, err := store.Get(context.Background(), key("ace"))
			So(err, ShouldBeNil)
			So(got.Score, ShouldEqual, int64(49))
			So(got.AccuracyBP, ShouldEqual, int32(4900))
			So(got.Combo, ShouldEqual, int32(49))
		})
	})
}

func TestService_NotConfigured(t *testing.T) {
	Convey("Given a service without a store", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithLogger(logger.Nop()))

		Convey("Then every operation fails fast", func() {
			So(svc.Configured(), ShouldBeFalse)

			_, err := svc.Submit(ctx, scoring.Input{TrackID: "neon"})
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)

			_, err = svc.TopN(ctx, "neon", "hard", 10)
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)

			_, err = svc.RankOf(ctx, "neon", "hard", "ace")
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)

			So(errors.Is(svc.Ready(ctx), service.ErrNotConfigured), ShouldBeTrue)

			_, err = svc.Sweep(ctx)
			So(errors.Is(err, service.ErrNotConfigured), ShouldBeTrue)
		})

		Convey("Then it still starts and stops", func() {
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop(ctx)
		})
	})
}

// blockingStore never answers UpsertBest before its context expires.
type blockingStore struct {
	repository.Store
}

func (b blockingStore) UpsertBest(ctx context.Context, _ model.ScoreRecord) (bool, error) {
	<-ctx.Done()
	return false, repository.Unavailable("upsert_best", ctx.Err())
}

func TestService_StorageFailure(t *testing.T) {
	Convey("Given a closed store", t, func() {
		store := repository.NewTreapStore()
		_ = store.Close()
		svc := newService(store)

		Convey("Then submissions report storage as unavailable", func() {
			_, err := svc.Submit(context.Background(), scoring.Input{TrackID: "neon", Name: "ace", Score: 1})
			So(errors.Is(err, service.ErrStorageUnavailable), ShouldBeTrue)
			So(errors.Is(err, repository.ErrUnavailable), ShouldBeTrue)
			So(errors.Is(svc.Ready(context.Background()), service.ErrStorageUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given a store that hangs", t, func() {
		svc := newService(blockingStore{repository.NewTreapStore()}, service.WithOpTimeout(20*time.Millisecond))

		Convey("Then the operation timeout surfaces as unavailable", func() {
			start := time.Now()
			_, err := svc.Submit(context.Background(), scoring.Input{TrackID: "neon", Name: "ace", Score: 1})
			So(errors.Is(err, service.ErrStorageUnavailable), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, 2*time.Second)
		})
	})
}

// flakyStore fails the next pruneFailures calls to Prune.
type flakyStore struct {
	repository.Store
	pruneFailures atomic.Int32
	pruneCalls    atomic.Int32
}

func (f *flakyStore) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	f.pruneCalls.Add(1)
	if f.pruneFailures.Add(-1) >= 0 {
		return 0, repository.Unavailable("prune", errors.New("connection reset"))
	}
	return f.Store.Prune(ctx, p, keep)
}

func TestService_PruneRetry(t *testing.T) {
	Convey("Given a store whose prune fails once", t, func() {
		ctx := context.Background()
		store := &flakyStore{Store: repository.NewTreapStore()}
		svc := newService(store, service.WithMaxPerPartition(2), service.WithPruneWorkers(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)

		submit(svc, "a", 300, 0.5, 1)
		submit(svc, "b", 200, 0.5, 1)
		store.pruneFailures.Store(1)
		res := submit(svc, "c", 100, 0.5, 1)

		Convey("Then the submission still succeeds", func() {
			So(res.Improved, ShouldBeTrue)
			So(*res.Rank, ShouldEqual, 3)
			So(res.Total, ShouldEqual, 3)
		})

		Convey("Then a background worker prunes the partition", func() {
			So(waitFor(func() bool {
				n, err := store.CountPartition(ctx, neonHard)
				return err == nil && n == 2
			}), ShouldBeTrue)
			top, err := svc.TopN(ctx, "neon", "hard", 10)
			So(err, ShouldBeNil)
			So(names(top), ShouldResemble, []string{"a", "b"})
		})
	})
}

func TestService_Sweep(t *testing.T) {
	Convey("Given partitions filled past the retention bound", t, func() {
		ctx := context.Background()
		store := repository.NewTreapStore()
		for _, p := range []model.Partition{neonHard, {TrackID: "dusk", Difficulty: model.Easy}} {
			for i := 0; i < 15; i++ {
				So(store.Put(ctx, model.ScoreRecord{
					TrackID: p.TrackID, Difficulty: p.Difficulty,
					PlayerName: fmt.Sprintf("p%02d", i), Score: int64(i), Timestamp: base,
				}), ShouldBeNil)
			}
		}

		Convey("When sweeping synchronously", func() {
			svc := newService(store, service.WithMaxPerPartition(10))
			res, err := svc.Sweep(ctx)

			Convey("Then every partition is trimmed", func() {
				So(err, ShouldBeNil)
				So(res.Partitions, ShouldEqual, 2)
				So(res.Deleted, ShouldEqual, 10)
				So(res.Failed, ShouldEqual, 0)

				st, err := svc.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Partitions, ShouldEqual, 2)
				So(st.Records, ShouldEqual, 20)
				So(st.Backend, ShouldEqual, "memory")
			})
		})

		Convey("When the periodic sweep is enabled", func() {
			svc := newService(store, service.WithMaxPerPartition(10), service.WithSweepInterval(10*time.Millisecond))
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop(ctx)

			Convey("Then the workers trim every partition", func() {
				So(waitFor(func() bool {
					st, err := svc.Stats(ctx)
					return err == nil && st.Records == 20
				}), ShouldBeTrue)
			})
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := newService(repository.NewTreapStore(), service.WithPruneWorkers(3))
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)

		st, err := svc.Stats(ctx)
		So(err, ShouldBeNil)
		So(st.Started, ShouldBeTrue)
		So(st.PruneWorkers, ShouldEqual, 3)

		Convey("When stopping the service", func() {
			svc.Stop(ctx)
			svc.Stop(ctx)

			Convey("Then it is marked as stopped and stays stopped", func() {
				st, err := svc.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Started, ShouldBeFalse)
				So(svc.Start(ctx), ShouldBeNil)
				st, _ = svc.Stats(ctx)
				So(st.Started, ShouldBeFalse)
			})
		})
	})
}
