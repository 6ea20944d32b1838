// Package dedupe tracks which users have an evaluation task queued or
// running, so a user is never processed by two tasks at once.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCapacity is returned when the tracker is full.
var ErrCapacity = errors.New("in-flight tracker at capacity")

// Deduper records in-flight keys.
type Deduper interface {
	// SeenAndRecord atomically checks if id is in flight and records it if
	// not. seen is true when id was already recorded.
	SeenAndRecord(ctx context.Context, id string) (seen bool, err error)

	// Unrecord releases id once its task has finished for good.
	Unrecord(ctx context.Context, id string)

	// Since returns when id was recorded.
	Since(id string) (time.Time, bool)

	Size() int64
}

type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	maxSize int // 0 or negative means unbounded
	now     func() time.Time
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]time.Time)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true, nil
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		return false, ErrCapacity
	}
	d.seen[id] = d.now()
	return false, nil
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *inMemoryDeduper) Since(id string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.seen[id]
	return t, ok
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
