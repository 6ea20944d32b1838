package queue

import "errors"

// Sentinel errors returned by queue operations.
var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when the queue is at capacity.
	ErrFull = errors.New("queue full")
)
