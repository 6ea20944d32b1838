package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	queue "github.com/dwellhq/dwell/internal/adapters/mq/queue"
	worker "github.com/dwellhq/dwell/internal/adapters/mq/worker"
	model "github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/retry"
	logging "github.com/dwellhq/dwell/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.InitWithWriter(io.Discard)
}

type outcome struct {
	task model.Task
	err  error
}

// mockHandler fails each task per its script, one entry per attempt.
type mockHandler struct {
	mu       sync.Mutex
	script   map[string][]error
	attempts map[string][]int
	done     chan outcome
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		script:   make(map[string][]error),
		attempts: make(map[string][]int),
		done:     make(chan outcome, 100),
	}
}

func (h *mockHandler) fail(taskID string, errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.script[taskID] = errs
}

func (h *mockHandler) HandleTask(_ context.Context, t model.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts[t.ID] = append(h.attempts[t.ID], t.Attempt)
	if errs := h.script[t.ID]; len(errs) > 0 {
		h.script[t.ID] = errs[1:]
		return errs[0]
	}
	return nil
}

func (h *mockHandler) TaskDone(_ context.Context, t model.Task, err error) {
	h.done <- outcome{task: t, err: err}
}

func (h *mockHandler) attemptsOf(taskID string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.attempts[taskID]...)
}

func (h *mockHandler) wait(n int) []outcome {
	var out []outcome
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case o := <-h.done:
			out = append(out, o)
		case <-timeout:
			return out
		}
	}
	return out
}

func newTask(id string) model.Task {
	return model.Task{ID: id, UserID: "user-" + id, Attempt: 1, EnqueuedAt: time.Now()}
}

func fastPolicy() *retry.Policy {
	return retry.NewPolicy(retry.WithMaxAttempts(3), retry.WithBaseBackoff(5*time.Millisecond))
}

func TestPool(t *testing.T) {
	convey.Convey("Given a running pool over an in-memory queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		h := newMockHandler()
		p := worker.NewPool(3, q, h, worker.WithPolicy(fastPolicy()))
		p.Start(ctx)
		defer func() { _ = p.Shutdown(context.Background()) }()

		convey.So(p.Size(), convey.ShouldEqual, 3)

		convey.Convey("When tasks succeed", func() {
			for _, id := range []string{"a", "b", "c", "d", "e"} {
				convey.So(q.Enqueue(ctx, newTask(id)), convey.ShouldBeNil)
			}
			got := h.wait(5)

			convey.Convey("Then each should be settled once without error", func() {
				convey.So(len(got), convey.ShouldEqual, 5)
				for _, o := range got {
					convey.So(o.err, convey.ShouldBeNil)
					convey.So(h.attemptsOf(o.task.ID), convey.ShouldResemble, []int{1})
				}
			})
		})

		convey.Convey("When a task fails transiently once", func() {
			h.fail("a", retry.Transient(errors.New("connection reset")))
			convey.So(q.Enqueue(ctx, newTask("a")), convey.ShouldBeNil)
			got := h.wait(1)

			convey.Convey("Then it should be retried and settled as a success", func() {
				convey.So(len(got), convey.ShouldEqual, 1)
				convey.So(got[0].err, convey.ShouldBeNil)
				convey.So(got[0].task.Attempt, convey.ShouldEqual, 2)
				convey.So(h.attemptsOf("a"), convey.ShouldResemble, []int{1, 2})
			})
		})

		convey.Convey("When a task fails permanently", func() {
			boom := errors.New("invalid preferences")
			h.fail("a", boom)
			convey.So(q.Enqueue(ctx, newTask("a")), convey.ShouldBeNil)
			got := h.wait(1)

			convey.Convey("Then it should not be retried", func() {
				convey.So(len(got), convey.ShouldEqual, 1)
				convey.So(errors.Is(got[0].err, boom), convey.ShouldBeTrue)
				convey.So(h.attemptsOf("a"), convey.ShouldResemble, []int{1})
			})
		})

		convey.Convey("When a task keeps failing transiently", func() {
			flaky := retry.Transient(errors.New("upstream 503"))
			h.fail("a", flaky, flaky, flaky, flaky)
			convey.So(q.Enqueue(ctx, newTask("a")), convey.ShouldBeNil)
			got := h.wait(1)

			convey.Convey("Then it should stop after the maximum attempts", func() {
				convey.So(len(got), convey.ShouldEqual, 1)
				convey.So(retry.IsTransient(got[0].err), convey.ShouldBeTrue)
				convey.So(h.attemptsOf("a"), convey.ShouldResemble, []int{1, 2, 3})
			})
		})
	})

	convey.Convey("Given a pool whose retry backoff is long", t, func() {
		q := queue.NewInMemoryQueue()
		h := newMockHandler()
		p := worker.NewPool(1, q, h, worker.WithPolicy(retry.NewPolicy(retry.WithBaseBackoff(time.Hour))))
		p.Start(context.Background())

		h.fail("a", retry.Transient(errors.New("timeout")))
		convey.So(q.Enqueue(context.Background(), newTask("a")), convey.ShouldBeNil)
		deadline := time.Now().Add(2 * time.Second)
		for p.PendingRetries() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		convey.So(p.PendingRetries(), convey.ShouldEqual, 1)

		convey.Convey("When the pool shuts down", func() {
			err := p.Shutdown(context.Background())
			got := h.wait(1)

			convey.Convey("Then the waiting task should be settled as stopped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(got), convey.ShouldEqual, 1)
				convey.So(errors.Is(got[0].err, worker.ErrStopped), convey.ShouldBeTrue)
				convey.So(p.PendingRetries(), convey.ShouldEqual, 0)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool without a retry policy", t, func() {
		q := queue.NewInMemoryQueue()
		h := newMockHandler()
		p := worker.NewPool(1, q, h)
		p.Start(context.Background())
		defer func() { _ = p.Shutdown(context.Background()) }()

		convey.Convey("Then transient failures should be settled immediately", func() {
			h.fail("a", retry.Transient(errors.New("timeout")))
			convey.So(q.Enqueue(context.Background(), newTask("a")), convey.ShouldBeNil)
			got := h.wait(1)
			convey.So(len(got), convey.ShouldEqual, 1)
			convey.So(got[0].err, convey.ShouldNotBeNil)
			convey.So(h.attemptsOf("a"), convey.ShouldResemble, []int{1})
		})
	})
}
