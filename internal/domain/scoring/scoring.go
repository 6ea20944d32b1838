// Package scoring runs the budget-constrained evaluation loop that scores a
// user's candidate listings through an external evaluator.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// Evaluator scores one (user, listing) pair. Implementations must return an
// error rather than a default score when the upstream answer is unusable.
// When such an answer was still billed, the returned Result carries its
// tokens and CostUSD alongside the error.
type Evaluator interface {
	// Evaluate scores listing for user, honoring ctx for cancellation.
	Evaluate(ctx context.Context, user model.User, listing model.Listing) (Result, error)
	// Model names the model whose token prices apply to this evaluator.
	Model() string
}

// Result is one evaluator answer with its accounting.
type Result struct {
	Score        int
	Reasoning    string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	ModelUsed    string
	Latency      time.Duration
}

// TotalTokens returns input plus output tokens.
func (r Result) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Validate rejects results outside the score and reasoning contract.
func (r Result) Validate() error {
	if r.Score < model.MinScore || r.Score > model.MaxScore {
		return fmt.Errorf("%w: score %d outside [%d,%d]", ErrMalformedResponse, r.Score, model.MinScore, model.MaxScore)
	}
	if strings.TrimSpace(r.Reasoning) == "" {
		return fmt.Errorf("%w: empty reasoning", ErrMalformedResponse)
	}
	if r.CostUSD < 0 {
		return fmt.Errorf("%w: negative cost %f", ErrMalformedResponse, r.CostUSD)
	}
	return nil
}
