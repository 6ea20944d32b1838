package service

import (
	"time"

	"github.com/dwellhq/dwell/internal/domain/retry"
	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the task queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize caps the number of users tracked as in flight.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCache fronts recommendation reads with c.
func WithCache(c RecommendationCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithRetryPolicy sets how failed tasks are retried.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithMaxEvaluationsPerRun caps the candidates fetched per run.
func WithMaxEvaluationsPerRun(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEvaluations = n
		}
	}
}

// WithMinCreditThreshold sets the balance below which runs are refused.
func WithMinCreditThreshold(v float64) Option {
	return func(s *Service) {
		if v >= 0 {
			s.minCredits = v
		}
	}
}

// WithSchedulerInterval runs ScheduleEligibleUsers every d after Start. Zero
// disables the scheduler.
func WithSchedulerInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.schedulerInterval = d
		}
	}
}

// WithTokenPrices sets the price table used for budget estimates.
func WithTokenPrices(p scoring.TokenPrices) Option {
	return func(s *Service) {
		if len(p) > 0 {
			s.prices = p
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets how run and task ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}
