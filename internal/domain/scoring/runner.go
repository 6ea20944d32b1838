package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
	"github.com/google/uuid"
)

// CandidateSelector returns listings that pass a user's hard filters and have
// not been evaluated for that user yet, most recent first.
type CandidateSelector interface {
	SelectCandidates(ctx context.Context, user model.User, limit int) ([]model.Listing, error)
}

// Committer persists one evaluation together with its credit deduction and
// run progress, atomically.
type Committer interface {
	CommitEvaluation(ctx context.Context, runID string, e model.Evaluation) error
}

// RunRequest parameterizes one scoring loop.
type RunRequest struct {
	User           model.User
	RunID          string
	MaxEvaluations int
	MaxCost        float64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBudgeter overrides the budgeter derived from the evaluator's model.
func WithBudgeter(b *Budgeter) RunnerOption {
	return func(r *Runner) {
		if b != nil {
			r.budget = b
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock sets the time source for evaluation timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator sets the evaluation id generator.
func WithIDGenerator(newID func() string) RunnerOption {
	return func(r *Runner) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// Runner scores candidates one at a time while keeping realized spend under
// the caller's cap.
type Runner struct {
	selector  CandidateSelector
	evaluator Evaluator
	committer Committer
	budget    *Budgeter
	log       logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewRunner wires a runner. The default budgeter prices the evaluator's model.
func NewRunner(selector CandidateSelector, evaluator Evaluator, committer Committer, opts ...RunnerOption) *Runner {
	r := &Runner{
		selector:  selector,
		evaluator: evaluator,
		committer: committer,
		budget:    NewBudgeter(evaluator.Model()),
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("scoring")
	}
	return r
}

// Run executes one scoring loop. Candidates are processed sequentially in
// selector order. Before each call the loop stops when the realized spend has
// reached MaxCost or when the next call, projected at the larger of the
// estimate and the most expensive call so far, would push it past MaxCost.
// Spend counts every paid call, including those whose evaluation was
// rejected or failed to commit. A failing listing is counted in ErrorCount
// and skipped. On context cancellation the partial stats are returned with
// the context error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (model.RunStats, error) {
	var stats model.RunStats
	log := r.log.With(logger.String("user_id", req.User.ID), logger.String("run_id", req.RunID))

	if req.MaxEvaluations <= 0 {
		return stats, nil
	}

	candidates, err := r.selector.SelectCandidates(ctx, req.User, req.MaxEvaluations)
	if err != nil {
		return stats, fmt.Errorf("select candidates: %w", err)
	}
	stats.CandidatesFound = len(candidates)
	metrics.RecordCandidatesFound(len(candidates))
	if len(candidates) == 0 {
		log.Info(ctx, "no candidates to evaluate")
		return stats, nil
	}

	if kept, trimmed := r.budget.Fit(candidates, req.MaxCost); trimmed {
		log.Warn(ctx, "estimated cost exceeds budget, trimming candidates",
			logger.Float64("estimate", r.budget.Estimate(len(candidates))),
			logger.Float64("max_cost", req.MaxCost),
			logger.Int("kept", len(kept)),
		)
		candidates = kept
		stats.BudgetExceeded = true
	}

	var (
		scoreSum int
		largest  float64
	)
	defer func() {
		if stats.Completed > 0 {
			stats.AverageScore = float64(scoreSum) / float64(stats.Completed)
		}
		if stats.BudgetExceeded {
			metrics.RecordBudgetExceeded()
		}
	}()

	for _, listing := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		projected := max(r.budget.PerEvaluation(), largest)
		if spent := stats.Spent(); spent >= req.MaxCost || spent+projected > req.MaxCost {
			log.Info(ctx, "budget reached, stopping run",
				logger.Float64("spent", spent),
				logger.Float64("max_cost", req.MaxCost),
			)
			stats.BudgetExceeded = true
			break
		}

		eval, cost, err := r.evaluate(ctx, req.User, listing)
		largest = max(largest, cost)
		if err == nil {
			err = r.committer.CommitEvaluation(ctx, req.RunID, eval)
		}
		if err != nil {
			stats.UnbilledCost += cost
			metrics.RecordUnbilledCost(cost)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			stats.ErrorCount++
			metrics.RecordEvaluationError()
			log.Error(ctx, "listing evaluation failed",
				logger.String("listing_id", listing.ID),
				logger.Float64("unbilled_cost", cost),
				logger.Error(err),
			)
			continue
		}

		stats.TotalCost += eval.CostUSD
		stats.Completed++
		scoreSum += eval.Score
		metrics.RecordEvaluation(eval.CostUSD)
		log.Debug(ctx, "listing evaluated",
			logger.String("listing_id", listing.ID),
			logger.Int("score", eval.Score),
			logger.Float64("cost_usd", eval.CostUSD),
		)
	}

	return stats, nil
}

// evaluate calls the evaluator and returns the evaluation with the realized
// cost of the call. The cost is set even when err is not nil.
func (r *Runner) evaluate(ctx context.Context, user model.User, listing model.Listing) (model.Evaluation, float64, error) {
	start := time.Now()
	res, err := r.evaluator.Evaluate(ctx, user, listing)
	metrics.RecordEvaluatorLatency(metrics.SinceMs(start))
	cost := max(res.CostUSD, 0)
	if err != nil {
		return model.Evaluation{}, cost, fmt.Errorf("evaluate listing %s: %w", listing.ID, err)
	}
	if err := res.Validate(); err != nil {
		return model.Evaluation{}, cost, fmt.Errorf("evaluate listing %s: %w", listing.ID, err)
	}

	modelUsed := res.ModelUsed
	if modelUsed == "" {
		modelUsed = r.evaluator.Model()
	}
	return model.Evaluation{
		ID:         r.newID(),
		UserID:     user.ID,
		ListingID:  listing.ID,
		Score:      res.Score,
		Reasoning:  model.TruncateReasoning(res.Reasoning),
		CostUSD:    res.CostUSD,
		TokensUsed: res.TotalTokens(),
		ModelUsed:  modelUsed,
		CreatedAt:  r.now().UTC(),
	}, cost, nil
}
