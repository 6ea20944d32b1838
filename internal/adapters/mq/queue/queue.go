// Package queue holds evaluation tasks between the scheduler and the worker
// pool.
package queue

import (
	"context"
	"sync"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and blocking dequeue of tasks.
type Queue interface {
	// Enqueue adds a task. It returns ErrFull or ErrClosed without blocking.
	Enqueue(ctx context.Context, t model.Task) error

	// Dequeue blocks until a task is available, ctx is done or the queue is
	// closed and drained, in which case it returns ErrClosed.
	Dequeue(ctx context.Context) (model.Task, error)

	// Len returns the number of queued tasks.
	Len() int

	// Cap returns the queue capacity.
	Cap() int

	// Close stops accepting tasks. Queued tasks can still be dequeued.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	tasks    chan model.Task
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan model.Task, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds t to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t model.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		return err
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.tasks))
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		return ErrFull
	}
}

// Dequeue returns the next task.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (model.Task, error) {
	select {
	case <-ctx.Done():
		return model.Task{}, ctx.Err()
	case t, ok := <-q.tasks:
		if !ok {
			return model.Task{}, ErrClosed
		}
		metrics.RecordQueueDequeue()
		metrics.UpdateQueueSize(len(q.tasks))
		return t, nil
	}
}

// Len returns the number of queued tasks.
func (q *InMemoryQueue) Len() int {
	return len(q.tasks)
}

// Cap returns the capacity.
func (q *InMemoryQueue) Cap() int {
	return q.capacity
}

// Close closes the queue. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue is closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
