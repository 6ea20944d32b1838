package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Score bounds and reasoning limits for an evaluation.
const (
	MinScore           = 1
	MaxScore           = 10
	MaxReasoningLength = 500
)

// ErrInvalidEvaluation is returned by Evaluation.Validate.
var ErrInvalidEvaluation = errors.New("invalid evaluation")

// Evaluation is the persisted result of scoring one listing for one user.
// At most one evaluation exists per (UserID, ListingID).
type Evaluation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ListingID  string    `json:"listing_id"`
	Score      int       `json:"score"`
	Reasoning  string    `json:"reasoning"`
	CostUSD    float64   `json:"cost_usd"`
	TokensUsed int       `json:"tokens_used"`
	ModelUsed  string    `json:"model_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// EvaluationKey is the business key of an evaluation.
type EvaluationKey struct {
	UserID    string
	ListingID string
}

// Key returns the (user, listing) business key.
func (e *Evaluation) Key() EvaluationKey {
	return EvaluationKey{UserID: e.UserID, ListingID: e.ListingID}
}

// Validate checks the evaluation against the store schema.
func (e *Evaluation) Validate() error {
	switch {
	case e.UserID == "" || e.ListingID == "":
		return fmt.Errorf("%w: missing user or listing id", ErrInvalidEvaluation)
	case e.Score < MinScore || e.Score > MaxScore:
		return fmt.Errorf("%w: score %d outside [%d,%d]", ErrInvalidEvaluation, e.Score, MinScore, MaxScore)
	case strings.TrimSpace(e.Reasoning) == "":
		return fmt.Errorf("%w: empty reasoning", ErrInvalidEvaluation)
	case utf8.RuneCountInString(e.Reasoning) > MaxReasoningLength:
		return fmt.Errorf("%w: reasoning longer than %d characters", ErrInvalidEvaluation, MaxReasoningLength)
	case e.CostUSD < 0:
		return fmt.Errorf("%w: negative cost", ErrInvalidEvaluation)
	}
	return nil
}

// TruncateReasoning clips s to MaxReasoningLength runes.
func TruncateReasoning(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxReasoningLength {
		return s
	}
	r := []rune(s)
	return string(r[:MaxReasoningLength])
}

// Recommendation pairs a listing with the evaluation that ranked it.
type Recommendation struct {
	Listing    Listing    `json:"listing"`
	Evaluation Evaluation `json:"evaluation"`
}

// EvaluationStatus summarizes every evaluation stored for a user.
type EvaluationStatus struct {
	TotalEvaluations int        `json:"total_evaluations"`
	TotalCost        float64    `json:"total_cost"`
	AverageScore     float64    `json:"average_score"`
	LatestEvaluation *time.Time `json:"latest_evaluation,omitempty"`
}
