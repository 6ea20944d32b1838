package scoring

import (
	"math"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// Token counts assumed for one evaluation when estimating spend.
const (
	EstimatedInputTokens  = 800
	EstimatedOutputTokens = 100
)

// Budgeter estimates evaluation spend before any call is made.
type Budgeter struct {
	perEvaluation float64
}

// BudgetOption configures a Budgeter.
type BudgetOption func(*budgetConfig)

type budgetConfig struct {
	prices       TokenPrices
	inputTokens  int
	outputTokens int
}

// WithTokenPrices replaces the price table.
func WithTokenPrices(p TokenPrices) BudgetOption {
	return func(c *budgetConfig) {
		if len(p) > 0 {
			c.prices = p
		}
	}
}

// WithAssumedTokens overrides the per-evaluation token assumption.
func WithAssumedTokens(input, output int) BudgetOption {
	return func(c *budgetConfig) {
		if input >= 0 && output >= 0 {
			c.inputTokens, c.outputTokens = input, output
		}
	}
}

// NewBudgeter prices the assumed tokens at modelName's rates.
func NewBudgeter(modelName string, opts ...BudgetOption) *Budgeter {
	c := budgetConfig{
		prices:       DefaultTokenPrices(),
		inputTokens:  EstimatedInputTokens,
		outputTokens: EstimatedOutputTokens,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &Budgeter{perEvaluation: c.prices.Cost(modelName, c.inputTokens, c.outputTokens)}
}

// PerEvaluation returns the estimated cost of one call.
func (b *Budgeter) PerEvaluation() float64 {
	return b.perEvaluation
}

// Estimate returns the estimated cost of n calls.
func (b *Budgeter) Estimate(n int) float64 {
	return float64(n) * b.perEvaluation
}

// Fit trims candidates so their estimate fits maxCost. trimmed is true when
// the estimate exceeded the cap.
func (b *Budgeter) Fit(candidates []model.Listing, maxCost float64) (kept []model.Listing, trimmed bool) {
	if len(candidates) == 0 || b.perEvaluation <= 0 || b.Estimate(len(candidates)) <= maxCost {
		return candidates, false
	}
	affordable := 0
	if maxCost > 0 {
		affordable = int(math.Floor(maxCost / b.perEvaluation))
	}
	affordable = min(max(affordable, 0), len(candidates))
	return candidates[:affordable], true
}
