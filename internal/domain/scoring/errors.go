package scoring

import "errors"

// Sentinel errors.
var (
	// ErrMalformedResponse is returned when an evaluator answer does not fit
	// the score and reasoning contract.
	ErrMalformedResponse = errors.New("malformed evaluator response")
	// ErrEvaluatorUnavailable marks evaluator failures worth retrying.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
)
