// Package worker runs evaluation tasks pulled from the queue and retries the
// ones that fail transiently.
package worker

import (
	"github.com/dwellhq/dwell/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*Pool)

// WithPolicy sets the retry classifier. Without one, failures are never
// retried.
func WithPolicy(p Classifier) Option {
	return func(pool *Pool) {
		if p != nil {
			pool.policy = p
		}
	}
}

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(pool *Pool) {
		if l != nil {
			pool.logger = l
		}
	}
}

// WithName sets the prefix used to name workers.
func WithName(name string) Option {
	return func(pool *Pool) {
		if name != "" {
			pool.name = name
		}
	}
}
