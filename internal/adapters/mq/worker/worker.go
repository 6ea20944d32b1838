package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwellhq/dwell/internal/adapters/mq/queue"
	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/retry"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2
	poolShutdownTimeout     = 30 * time.Second
)

// ErrStopped is passed to TaskDone for retries dropped by Shutdown.
var ErrStopped = errors.New("worker pool stopped")

// TaskHandler runs tasks and learns their final outcome.
type TaskHandler interface {
	// HandleTask runs one attempt of t.
	HandleTask(ctx context.Context, t model.Task) error
	// TaskDone is called exactly once per task, after the last attempt.
	// err is nil on success.
	TaskDone(ctx context.Context, t model.Task, err error)
}

// Queue is the subset of the task queue workers use.
type Queue interface {
	Enqueue(ctx context.Context, t model.Task) error
	Dequeue(ctx context.Context) (model.Task, error)
}

// Classifier decides whether a failure is retried.
type Classifier interface {
	Classify(err error) retry.Decision
}

type neverRetry struct{}

func (neverRetry) Classify(error) retry.Decision { return retry.Decision{} }

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	queue   Queue
	handler TaskHandler
	policy  Classifier
	name    string
	size    int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Int64
	retries *retrier

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A non-positive count uses a
// multiple of the CPU count.
func NewPool(workerCount int, q Queue, handler TaskHandler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		queue:   q,
		handler: handler,
		policy:  neverRetry{},
		name:    "worker",
		size:    workerCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	p.retries = newRetrier(q, handler, p.logger)

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Active returns the number of workers currently running a task.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// PendingRetries returns the number of tasks waiting for their backoff.
func (p *Pool) PendingRetries() int {
	return p.retries.pending()
}

// Start launches the workers. They stop when ctx is done, when the queue is
// closed and drained, or on Shutdown.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(runCtx, p.logger.Named(p.name+"-"+strconv.Itoa(i)))
	}
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	for {
		t, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				log.Error(ctx, "dequeue failed", logger.Error(err))
			}
			return
		}
		p.process(ctx, log, t)
	}
}

// process runs one attempt of t and settles its outcome.
func (p *Pool) process(ctx context.Context, log logger.Logger, t model.Task) {
	metrics.UpdateWorkerActiveCount(int(p.active.Add(1)))
	start := time.Now()
	err := p.handler.HandleTask(ctx, t)
	metrics.RecordWorkerProcessingLatency(metrics.SinceMs(start))
	metrics.UpdateWorkerActiveCount(int(p.active.Add(-1)))

	if err == nil {
		p.handler.TaskDone(ctx, t, nil)
		return
	}

	metrics.RecordWorkerError()
	d := p.policy.Classify(err)
	if ctx.Err() != nil || !d.ShouldRetry(t.Attempt) {
		log.Error(ctx, "task failed",
			logger.String("task_id", t.ID),
			logger.String("user_id", t.UserID),
			logger.Int("attempt", t.Attempt),
			logger.Bool("retryable", d.Retryable),
			logger.Error(err),
		)
		p.handler.TaskDone(ctx, t, err)
		return
	}

	delay := d.Delay(t.Attempt)
	log.Warn(ctx, "task failed, retrying",
		logger.String("task_id", t.ID),
		logger.String("user_id", t.UserID),
		logger.Int("attempt", t.Attempt),
		logger.Duration("backoff", delay),
		logger.Error(err),
	)
	next := t
	next.Attempt++
	p.retries.schedule(next, delay)
}

// Shutdown drops pending retries, closes the queue when it supports it and
// waits for workers to finish. Workers still busy when ctx expires are
// cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.retries.stop(ctx)

	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker shutdown timed out, cancelling running tasks")
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}
}

type pendingRetry struct {
	task  model.Task
	timer *time.Timer
}

// retrier re-enqueues tasks after their backoff.
type retrier struct {
	queue   Queue
	handler TaskHandler
	log     logger.Logger

	mu      sync.Mutex
	waiting map[string]pendingRetry
	stopped bool
}

func newRetrier(q Queue, h TaskHandler, log logger.Logger) *retrier {
	return &retrier{queue: q, handler: h, log: log, waiting: make(map[string]pendingRetry)}
}

func (r *retrier) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

func (r *retrier) schedule(t model.Task, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		go r.handler.TaskDone(context.Background(), t, ErrStopped)
		return
	}
	metrics.RecordTaskRetry()
	r.waiting[t.ID] = pendingRetry{task: t, timer: time.AfterFunc(delay, func() { r.fire(t.ID) })}
}

func (r *retrier) fire(id string) {
	r.mu.Lock()
	pr, ok := r.waiting[id]
	if !ok || r.stopped {
		r.mu.Unlock()
		return
	}
	delete(r.waiting, id)
	r.mu.Unlock()

	ctx := context.Background()
	pr.task.EnqueuedAt = time.Now()
	if err := r.queue.Enqueue(ctx, pr.task); err != nil {
		r.log.Error(ctx, "retry enqueue failed", logger.String("task_id", id), logger.Error(err))
		r.handler.TaskDone(ctx, pr.task, fmt.Errorf("requeue task %s: %w", id, err))
	}
}

func (r *retrier) stop(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	dropped := make([]model.Task, 0, len(r.waiting))
	for id, pr := range r.waiting {
		pr.timer.Stop()
		dropped = append(dropped, pr.task)
		delete(r.waiting, id)
	}
	r.mu.Unlock()

	for _, t := range dropped {
		r.handler.TaskDone(ctx, t, ErrStopped)
	}
}
