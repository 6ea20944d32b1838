package repository

import (
	"time"

	"github.com/dwellhq/dwell/pkg/logger"
)

// Pool defaults.
const (
	defaultMaxConns        = 10
	defaultMinConns        = 2
	defaultConnectAttempts = 5
	defaultRetryInterval   = 2 * time.Second
)

type poolConfig struct {
	maxConns        int32
	minConns        int32
	connectAttempts int
	retryInterval   time.Duration
	log             logger.Logger
}

// PoolOption configures NewPool.
type PoolOption func(*poolConfig)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

// WithMinConns keeps n connections open.
func WithMinConns(n int32) PoolOption {
	return func(c *poolConfig) {
		if n >= 0 {
			c.minConns = n
		}
	}
}

// WithConnectRetry sets how often and how fast NewPool retries the first ping.
func WithConnectRetry(attempts int, interval time.Duration) PoolOption {
	return func(c *poolConfig) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
		if interval > 0 {
			c.retryInterval = interval
		}
	}
}

// WithPoolLogger sets the logger used while connecting.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(c *poolConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *PostgresStore) {
		if l != nil {
			s.log = l
		}
	}
}
