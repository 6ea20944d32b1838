package evaluator

import (
	"net/http"
	"time"

	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/pkg/logger"
)

// Default client configuration.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = scoring.ModelGPT4oMini
	DefaultTimeout     = 30 * time.Second
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.3
)

// Option configures an OpenAI client.
type Option func(*OpenAI)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *OpenAI) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithModel selects the chat model.
func WithModel(name string) Option {
	return func(c *OpenAI) {
		if name != "" {
			c.model = name
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAI) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *OpenAI) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenPrices replaces the price table used to cost calls.
func WithTokenPrices(p scoring.TokenPrices) Option {
	return func(c *OpenAI) {
		if len(p) > 0 {
			c.prices = p
		}
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *OpenAI) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *OpenAI) {
		if t >= 0 {
			c.temperature = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *OpenAI) {
		if l != nil {
			c.log = l
		}
	}
}
