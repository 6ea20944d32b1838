package service

import "errors"

// Sentinel errors returned by the service.
var (
	// ErrNotStarted is returned by task operations before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidLimit is returned for a non-positive recommendation limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)
