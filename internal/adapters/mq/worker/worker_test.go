package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/rhythmboard/internal/adapters/mq/queue"
	worker "github.com/okian/rhythmboard/internal/adapters/mq/worker"
	model "github.com/okian/rhythmboard/internal/domain/model"
	logging "github.com/okian/rhythmboard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	jobChan chan queue.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		jobChan: make(chan queue.Job, 10),
	}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Job {
	return mq.jobChan
}

func (mq *mockQueue) Close() error {
	close(mq.jobChan)
	return nil
}

func (mq *mockQueue) addJob(track string) {
	mq.jobChan <- queue.Job{
		Partition:  model.Partition{TrackID: track, Difficulty: model.Hard},
		Reason:     "retry",
		EnqueuedAt: time.Now(),
	}
}

type mockPruner struct {
	mu      sync.Mutex
	calls   []model.Partition
	deleted int
	errs    map[string]error
}

func newMockPruner() *mockPruner {
	return &mockPruner{errs: make(map[string]error)}
}

func (mp *mockPruner) PrunePartition(ctx context.Context, p model.Partition) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.calls = append(mp.calls, p)
	if err, ok := mp.errs[p.TrackID]; ok {
		return 0, err
	}
	return mp.deleted, nil
}

func (mp *mockPruner) callCount() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.calls)
}

func (mp *mockPruner) setError(track string, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.errs[track] = err
}

type doneRecorder struct {
	mu   sync.Mutex
	jobs []queue.Job
	errs []error
}

func (d *doneRecorder) fn(_ context.Context, j queue.Job, _ int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
	d.errs = append(d.errs, err)
}

func (d *doneRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading prune jobs", t, func() {
		q := newMockQueue()
		pruner := newMockPruner()
		pruner.deleted = 3
		done := &doneRecorder{}
		w := worker.NewInMemoryWorker(q, pruner,
			worker.WithName("w-test"),
			worker.WithLogger(logging.Nop()),
			worker.WithOnDone(done.fn),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("It prunes each dequeued partition", func() {
			q.addJob("neon")
			q.addJob("dusk")

			convey.So(waitFor(func() bool { return done.count() == 2 }), convey.ShouldBeTrue)
			convey.So(pruner.callCount(), convey.ShouldEqual, 2)
			convey.So(done.errs[0], convey.ShouldBeNil)
			convey.So(done.jobs[0].Partition.TrackID, convey.ShouldEqual, "neon")
		})

		convey.Convey("A failing prune is reported and the loop continues", func() {
			boom := errors.New("store down")
			pruner.setError("bad", boom)
			q.addJob("bad")
			q.addJob("good")

			convey.So(waitFor(func() bool { return done.count() == 2 }), convey.ShouldBeTrue)
			convey.So(errors.Is(done.errs[0], boom), convey.ShouldBeTrue)
			convey.So(done.errs[1], convey.ShouldBeNil)
		})

		convey.Convey("Shutdown stops the loop", func() {
			shutdownCtx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a worker whose queue is closed", t, func() {
		q := newMockQueue()
		w := worker.NewInMemoryWorker(q, newMockPruner(), worker.WithLogger(logging.Nop()))
		finished := make(chan struct{})
		go func() {
			w.Run(context.Background())
			close(finished)
		}()
		_ = q.Close()

		convey.Convey("Run returns", func() {
			select {
			case <-finished:
				convey.So(true, convey.ShouldBeTrue)
			case <-time.After(2 * time.Second):
				convey.So("run did not return", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		pruner := newMockPruner()
		done := &doneRecorder{}
		pool := worker.NewPool(3, q, pruner, worker.WithLogger(logging.Nop()), worker.WithOnDone(done.fn))

		convey.So(pool.Size(), convey.ShouldEqual, 3)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("Every enqueued job is processed once", func() {
			for _, track := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
				convey.So(q.Enqueue(ctx, queue.Job{Partition: model.Partition{TrackID: track, Difficulty: model.Easy}}), convey.ShouldBeTrue)
			}
			convey.So(waitFor(func() bool { return done.count() == 8 }), convey.ShouldBeTrue)
			convey.So(pruner.callCount(), convey.ShouldEqual, 8)

			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})

	convey.Convey("A non-positive worker count falls back to the CPU count", t, func() {
		pool := worker.NewPool(0, newMockQueue(), newMockPruner(), worker.WithLogger(logging.Nop()))
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
