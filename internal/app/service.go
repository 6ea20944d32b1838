// Package service wires the matching engine together: it runs evaluation
// tasks for users, schedules them, and serves recommendations and profile
// updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	taskqueue "github.com/dwellhq/dwell/internal/adapters/mq/queue"
	workerpool "github.com/dwellhq/dwell/internal/adapters/mq/worker"
	"github.com/dwellhq/dwell/internal/adapters/repository"
	"github.com/dwellhq/dwell/internal/domain/dedupe"
	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/profile"
	"github.com/dwellhq/dwell/internal/domain/retry"
	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/internal/domain/types"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
	"github.com/google/uuid"
)

// Service defaults.
const (
	DefaultMaxEvaluationsPerRun = 50
	DefaultMinCreditThreshold   = 0.10
	DefaultRecommendationLimit  = 10
	MaxRecommendationLimit      = 100

	defaultQueueSize  = 1024
	defaultDedupeSize = 10000
	stopTimeout       = 30 * time.Second
)

// RecommendationCache is the cache-aside store for recommendation lists.
type RecommendationCache interface {
	Get(ctx context.Context, userID string, limit int) ([]model.Recommendation, bool, error)
	Set(ctx context.Context, userID string, limit int, recs []model.Recommendation) error
	Invalidate(ctx context.Context, userID string) error
}

type noCache struct{}

func (noCache) Get(context.Context, string, int) ([]model.Recommendation, bool, error) {
	return nil, false, nil
}

func (noCache) Set(context.Context, string, int, []model.Recommendation) error {
	return nil
}

func (noCache) Invalidate(context.Context, string) error {
	return nil
}

// Service implements the matching engine operations.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	evaluator scoring.Evaluator
	runner    *scoring.Runner
	cache     RecommendationCache
	deduper   dedupe.Deduper
	policy    *retry.Policy
	taskQueue *taskqueue.InMemoryQueue
	pool      *workerpool.Pool

	// Configuration
	workerCount       int
	queueSize         int
	dedupeSize        int
	maxEvaluations    int
	minCredits        float64
	schedulerInterval time.Duration
	prices            scoring.TokenPrices
	now               func() time.Time
	newID             func() string

	// State
	started bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup

	// Logging
	logger logger.Logger
}

// New constructs a Service over store and evaluator.
func New(store repository.Store, evaluator scoring.Evaluator, opts ...Option) *Service {
	s := &Service{
		store:          store,
		evaluator:      evaluator,
		cache:          noCache{},
		policy:         retry.NewPolicy(),
		workerCount:    runtime.NumCPU() * 2,
		queueSize:      defaultQueueSize,
		dedupeSize:     defaultDedupeSize,
		maxEvaluations: DefaultMaxEvaluationsPerRun,
		minCredits:     DefaultMinCreditThreshold,
		prices:         scoring.DefaultTokenPrices(),
		now:            time.Now,
		newID:          func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.runner = scoring.NewRunner(store, evaluator, repository.NewLedger(store, repository.WithLedgerLogger(s.logger.Named("ledger"))),
		scoring.WithBudgeter(scoring.NewBudgeter(evaluator.Model(), scoring.WithTokenPrices(s.prices))),
		scoring.WithLogger(s.logger.Named("scoring")),
		scoring.WithClock(s.now),
		scoring.WithIDGenerator(s.newID),
	)
	return s
}

// Start launches the worker pool and, when configured, the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting matching service...")
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	s.taskQueue = taskqueue.NewInMemoryQueue(taskqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.taskQueue, s,
		workerpool.WithPolicy(s.policy),
		workerpool.WithLogger(s.logger.Named("worker-pool")),
	)
	s.pool.Start(context.WithoutCancel(ctx))

	s.stopCh = make(chan struct{})
	if s.schedulerInterval > 0 {
		s.loopWG.Add(1)
		go s.schedulerLoop(context.WithoutCancel(ctx), s.stopCh)
	}

	s.started = true
	s.logger.Info(ctx, "matching service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Duration("scheduler_interval", s.schedulerInterval),
		logger.String("model", s.evaluator.Model()),
	)
	return nil
}

// Stop stops the scheduler and drains the worker pool.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh, pool := s.stopCh, s.pool
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping matching service...")

	close(stopCh)
	s.loopWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.logger.Info(ctx, "matching service stopped")
}

func (s *Service) schedulerLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.ScheduleEligibleUsers(ctx); err != nil {
				s.logger.Error(ctx, "scheduling pass failed", logger.Error(err))
			}
		}
	}
}

// EvaluateUserListings runs one budget-constrained evaluation pass for a
// user. Users below the credit threshold get an insufficient_credits failure
// without any evaluator call.
func (s *Service) EvaluateUserListings(ctx context.Context, userID string) types.Outcome[types.TaskResult] {
	log := s.logger.With(logger.String("user_id", userID))

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordRun(metrics.OutcomeNotFound)
			return types.Failure[types.TaskResult](types.ReasonNotFound, "User not found")
		}
		return s.failRun(ctx, log, nil, err)
	}

	run := model.Run{
		ID:        s.newID(),
		UserID:    user.ID,
		Status:    model.RunRunning,
		StartedAt: s.now().UTC(),
	}
	log = log.With(logger.String("run_id", run.ID))

	if user.EvaluationCredits < s.minCredits {
		run.Status = model.RunInsufficientCredits
		s.recordRefusedRun(ctx, log, run)
		metrics.RecordRun(metrics.OutcomeInsufficientCredits)
		log.Info(ctx, "insufficient credits, skipping run",
			logger.Float64("credits", user.EvaluationCredits),
			logger.Float64("threshold", s.minCredits),
		)
		return types.Failure[types.TaskResult](types.ReasonInsufficientCredits, "Insufficient credits")
	}

	if err := s.store.StartRun(ctx, run); err != nil {
		return s.failRun(ctx, log, nil, fmt.Errorf("start run: %w", err))
	}

	log.Info(ctx, "evaluation run started",
		logger.Float64("credits", user.EvaluationCredits),
		logger.Int("max_evaluations", s.maxEvaluations),
	)
	stats, err := s.runner.Run(ctx, scoring.RunRequest{
		User:           user,
		RunID:          run.ID,
		MaxEvaluations: s.maxEvaluations,
		MaxCost:        user.EvaluationCredits,
	})
	run.Stats = stats
	if stats.Completed > 0 {
		if cerr := s.cache.Invalidate(context.WithoutCancel(ctx), user.ID); cerr != nil {
			log.Warn(ctx, "recommendation cache invalidation failed", logger.Error(cerr))
		}
	}
	if err != nil {
		return s.failRun(ctx, log, &run, err)
	}

	run.Status = model.RunCompleted
	s.finishRun(ctx, log, run)

	remaining := user.EvaluationCredits - stats.TotalCost
	if fresh, gerr := s.store.GetUser(ctx, user.ID); gerr == nil {
		remaining = fresh.EvaluationCredits
	}

	metrics.RecordRun(metrics.OutcomeCompleted)
	log.Info(ctx, "evaluation run completed",
		logger.Int("candidates", stats.CandidatesFound),
		logger.Int("completed", stats.Completed),
		logger.Int("errors", stats.ErrorCount),
		logger.Float64("total_cost", stats.TotalCost),
		logger.Float64("unbilled_cost", stats.UnbilledCost),
		logger.Float64("average_score", stats.AverageScore),
		logger.Bool("budget_exceeded", stats.BudgetExceeded),
		logger.Float64("remaining_credits", remaining),
	)
	return types.Success(types.TaskResult{
		UserID:           user.ID,
		RunID:            run.ID,
		Stats:            stats,
		RemainingCredits: remaining,
	})
}

// failRun classifies err, closes run when one was started and returns the
// failed outcome.
func (s *Service) failRun(ctx context.Context, log logger.Logger, run *model.Run, err error) types.Outcome[types.TaskResult] {
	reason, outcome := types.ReasonPermanent, metrics.OutcomePermanent
	if retry.IsTransient(err) {
		reason, outcome = types.ReasonTransient, metrics.OutcomeTransient
	}
	if run != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
		s.finishRun(ctx, log, *run)
	}
	metrics.RecordRun(outcome)
	log.Error(ctx, "evaluation run failed", logger.String("reason", string(reason)), logger.Error(err))
	return types.FailureFrom[types.TaskResult](reason, err)
}

func (s *Service) finishRun(ctx context.Context, log logger.Logger, run model.Run) {
	finished := s.now().UTC()
	run.FinishedAt = &finished
	if err := s.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error(ctx, "failed to record run result", logger.Error(err))
	}
}

func (s *Service) recordRefusedRun(ctx context.Context, log logger.Logger, run model.Run) {
	if err := s.store.StartRun(ctx, run); err != nil {
		log.Error(ctx, "failed to record refused run", logger.Error(err))
		return
	}
	s.finishRun(ctx, log, run)
}

// Enqueue queues an evaluation task for userID. queued is false when a task
// for the user is already queued or running.
func (s *Service) Enqueue(ctx context.Context, userID string) (queued bool, err error) {
	s.mu.RLock()
	q := s.taskQueue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return false, ErrNotStarted
	}

	seen, err := s.deduper.SeenAndRecord(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("track user %s: %w", userID, err)
	}
	if seen {
		metrics.RecordTaskDuplicate()
		s.logger.Debug(ctx, "user already in flight, skipping", logger.String("user_id", userID))
		return false, nil
	}

	task := model.Task{ID: s.newID(), UserID: userID, Attempt: 1, EnqueuedAt: s.now().UTC()}
	if err := q.Enqueue(ctx, task); err != nil {
		s.deduper.Unrecord(ctx, userID)
		return false, fmt.Errorf("enqueue user %s: %w", userID, err)
	}
	s.logger.Debug(ctx, "task enqueued", logger.String("task_id", task.ID), logger.String("user_id", userID))
	return true, nil
}

// ScheduleEligibleUsers enqueues one task per user with a preference profile
// and enough credits.
func (s *Service) ScheduleEligibleUsers(ctx context.Context) (types.ScheduleResult, error) {
	users, err := s.store.EligibleUsers(ctx, s.minCredits)
	if err != nil {
		return types.ScheduleResult{}, fmt.Errorf("list eligible users: %w", err)
	}

	res := types.ScheduleResult{UsersFound: len(users)}
	for _, u := range users {
		queued, err := s.Enqueue(ctx, u.ID)
		if err != nil {
			s.logger.Warn(ctx, "failed to schedule user", logger.String("user_id", u.ID), logger.Error(err))
			if errors.Is(err, ErrNotStarted) || errors.Is(err, taskqueue.ErrClosed) {
				return res, err
			}
			continue
		}
		if queued {
			res.TasksCreated++
		}
	}
	s.logger.Info(ctx, "scheduling pass finished",
		logger.Int("users_found", res.UsersFound),
		logger.Int("tasks_created", res.TasksCreated),
	)
	return res, nil
}

// HandleTask runs the evaluation for a queued task. Insufficient credits is a
// normal outcome, not a task failure.
func (s *Service) HandleTask(ctx context.Context, t model.Task) error {
	out := s.EvaluateUserListings(ctx, t.UserID)
	switch {
	case out.OK(), out.Reason() == types.ReasonInsufficientCredits:
		return nil
	case out.Reason().Retryable():
		return retry.Transient(out.Err())
	default:
		return out.Err()
	}
}

// TaskDone releases the user once its task is settled.
func (s *Service) TaskDone(ctx context.Context, t model.Task, err error) {
	s.deduper.Unrecord(ctx, t.UserID)
	if err != nil {
		s.logger.Warn(ctx, "task settled with error",
			logger.String("task_id", t.ID),
			logger.String("user_id", t.UserID),
			logger.Int("attempts", t.Attempt),
			logger.Error(err),
		)
	}
}

// Recommendations returns the user's best scored listings.
func (s *Service) Recommendations(ctx context.Context, userID string, limit int) ([]model.Recommendation, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	limit = min(limit, MaxRecommendationLimit)

	recs, hit, err := s.cache.Get(ctx, userID, limit)
	if err != nil {
		s.logger.Warn(ctx, "recommendation cache read failed", logger.String("user_id", userID), logger.Error(err))
	}
	if hit {
		return recs, nil
	}

	recs, err = s.store.TopRecommendations(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, userID, limit, recs); err != nil {
		s.logger.Warn(ctx, "recommendation cache write failed", logger.String("user_id", userID), logger.Error(err))
	}
	return recs, nil
}

// EvaluationStatus summarizes the user's stored evaluations.
func (s *Service) EvaluationStatus(ctx context.Context, userID string) (model.EvaluationStatus, error) {
	return s.store.EvaluationStatus(ctx, userID)
}

// Run returns a recorded evaluation run.
func (s *Service) Run(ctx context.Context, runID string) (model.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// UpdatePreferences validates and saves a preference change.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, upd profile.PreferenceUpdates) types.Outcome[model.User] {
	return s.updateUser(ctx, userID, func(u model.User) types.Outcome[model.User] {
		return profile.ApplyPreferences(u, upd, s.now().UTC())
	})
}

// MarkProfileComplete flags the profile complete when it has every required
// field.
func (s *Service) MarkProfileComplete(ctx context.Context, userID string) types.Outcome[model.User] {
	return s.updateUser(ctx, userID, func(u model.User) types.Outcome[model.User] {
		return profile.MarkComplete(u, s.now().UTC())
	})
}

// ResetProfileCompletion clears the completion flag.
func (s *Service) ResetProfileCompletion(ctx context.Context, userID string) types.Outcome[model.User] {
	return s.updateUser(ctx, userID, func(u model.User) types.Outcome[model.User] {
		return types.Success(profile.ResetCompletion(u))
	})
}

func (s *Service) updateUser(ctx context.Context, userID string, change func(model.User) types.Outcome[model.User]) types.Outcome[model.User] {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return types.Failure[model.User](types.ReasonNotFound, "User not found")
	}
	if err != nil {
		return types.FailureFrom[model.User](reasonFor(err), err)
	}

	out := change(u)
	if !out.OK() {
		return out
	}
	if err := s.store.SaveUser(ctx, out.Value()); err != nil {
		return types.FailureFrom[model.User](reasonFor(err), err)
	}
	return out
}

func reasonFor(err error) types.Reason {
	if retry.IsTransient(err) {
		return types.ReasonTransient
	}
	return types.ReasonPermanent
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":              s.started,
		"workerCount":          s.workerCount,
		"queueSize":            s.queueSize,
		"dedupeSize":           s.dedupeSize,
		"inFlightUsers":        s.deduper.Size(),
		"maxEvaluationsPerRun": s.maxEvaluations,
		"minCreditThreshold":   s.minCredits,
		"model":                s.evaluator.Model(),
	}

	if s.started {
		stats["queueLength"] = s.taskQueue.Len()
		stats["activeWorkers"] = s.pool.Active()
		stats["pendingRetries"] = s.pool.PendingRetries()
		metrics.UpdateQueueSize(s.taskQueue.Len())
	}
	return stats
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
