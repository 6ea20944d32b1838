// Package retry classifies task failures into retryable and permanent ones
// and computes the backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 60 * time.Second
	DefaultMaxBackoff  = 10 * time.Minute
)

// ErrTransient marks an error as safe to retry. Wrap it with
// fmt.Errorf("...: %w", retry.ErrTransient) or use Transient.
var ErrTransient = errors.New("transient failure")

// Transient wraps err so the policy classifies it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Decision is the classification of one failure.
type Decision struct {
	Retryable   bool
	MaxAttempts int
	Backoff     time.Duration
	maxBackoff  time.Duration
}

// Delay returns the wait before attempt+1, doubling per attempt already made.
func (d Decision) Delay(attempt int) time.Duration {
	if !d.Retryable || attempt < 1 {
		return 0
	}
	delay := d.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if d.maxBackoff > 0 && delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return delay
}

// ShouldRetry reports whether a task that just failed its attempt-th try
// should run again.
func (d Decision) ShouldRetry(attempt int) bool {
	return d.Retryable && attempt < d.MaxAttempts
}

// Policy maps errors to retry decisions.
type Policy struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the delay before the first retry.
func WithBaseBackoff(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.baseBackoff = d
		}
	}
}

// WithMaxBackoff caps the exponential delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxBackoff = d
		}
	}
}

// NewPolicy returns a policy with defaults overridden by opts.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify decides whether err is worth retrying.
func (p *Policy) Classify(err error) Decision {
	d := Decision{MaxAttempts: 1}
	if err != nil && IsTransient(err) {
		d = Decision{
			Retryable:   true,
			MaxAttempts: p.maxAttempts,
			Backoff:     p.baseBackoff,
			maxBackoff:  p.maxBackoff,
		}
	}
	return d
}

// IsTransient reports whether err looks like temporary infrastructure trouble.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState(pgErr.Code)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// transientSQLState matches connection exceptions (08), operator intervention
// such as admin shutdown (57P0x), serialization failures and too many
// connections.
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P0"):
		return true
	case code == "40001", code == "40P01", code == "53300":
		return true
	default:
		return false
	}
}
