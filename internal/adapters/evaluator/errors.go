package evaluator

import "errors"

// ErrMissingAPIKey is returned when the OpenAI client is built without a key.
var ErrMissingAPIKey = errors.New("evaluator api key is required")
