// Package evaluator provides scoring.Evaluator implementations: an
// OpenAI-compatible chat completions client and a deterministic static
// evaluator for local runs.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/retry"
	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/pkg/logger"
)

const maxResponseBytes = 1 << 20

// OpenAI scores listings through the chat completions API with a strict JSON
// schema response format.
type OpenAI struct {
	apiKey      string
	baseURL     string
	model       string
	http        *http.Client
	timeout     time.Duration
	prices      scoring.TokenPrices
	maxTokens   int
	temperature float64
	prompts     *PromptBuilder
	log         logger.Logger
}

var _ scoring.Evaluator = (*OpenAI)(nil)

// NewOpenAI returns a client authenticated with apiKey.
func NewOpenAI(apiKey string, opts ...Option) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &OpenAI{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		http:        &http.Client{},
		timeout:     DefaultTimeout,
		prices:      scoring.DefaultTokenPrices(),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		prompts:     NewPromptBuilder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("evaluator")
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// Model returns the configured chat model.
func (c *OpenAI) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type evaluationPayload struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

var evaluationSchema = responseFormat{
	Type: "json_schema",
	JSONSchema: jsonSchema{
		Name:   "listing_evaluation",
		Strict: true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"score": map[string]any{
					"type":        "integer",
					"description": "Rating from 1-10 where 1=poor match, 10=excellent match",
					"minimum":     model.MinScore,
					"maximum":     model.MaxScore,
				},
				"reasoning": map[string]any{
					"type":        "string",
					"description": "Brief explanation of the score focusing on key factors",
				},
			},
			"required":             []string{"score", "reasoning"},
			"additionalProperties": false,
		},
	},
}

// Evaluate sends one chat completion and parses the structured answer.
// Rate limiting, server errors and transport failures are returned as
// transient; other HTTP errors and unusable answers are permanent. An
// unusable answer that reported token usage is returned with its cost set.
func (c *OpenAI) Evaluate(ctx context.Context, user model.User, listing model.Listing) (scoring.Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: c.prompts.Build(user, listing)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: evaluationSchema,
	})
	if err != nil {
		return scoring.Result{}, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return scoring.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return scoring.Result{}, ctx.Err()
		}
		return scoring.Result{}, retry.Transient(fmt.Errorf("%w: %w", scoring.ErrEvaluatorUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return scoring.Result{}, retry.Transient(fmt.Errorf("%w: read body: %w", scoring.ErrEvaluatorUnavailable, err))
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return scoring.Result{}, statusError(resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return scoring.Result{}, fmt.Errorf("%w: decode response: %w", scoring.ErrMalformedResponse, err)
	}

	// The call is billed from here on; rejections below carry its cost.
	billed := scoring.Result{
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		CostUSD:      c.prices.Cost(c.model, out.Usage.PromptTokens, out.Usage.CompletionTokens),
		ModelUsed:    c.model,
		Latency:      latency,
	}
	if len(out.Choices) == 0 {
		return billed, fmt.Errorf("%w: no choices", scoring.ErrMalformedResponse)
	}
	msg := out.Choices[0].Message
	if msg.Refusal != "" {
		return billed, fmt.Errorf("%w: refused: %s", scoring.ErrMalformedResponse, msg.Refusal)
	}

	var payload evaluationPayload
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		return billed, fmt.Errorf("%w: decode evaluation: %w", scoring.ErrMalformedResponse, err)
	}

	res := billed
	res.Score = payload.Score
	res.Reasoning = strings.TrimSpace(payload.Reasoning)
	if err := res.Validate(); err != nil {
		return billed, err
	}

	c.log.Debug(ctx, "listing scored",
		logger.String("user_id", user.ID),
		logger.String("listing_id", listing.ID),
		logger.Int("score", res.Score),
		logger.Int("tokens", res.TotalTokens()),
		logger.Duration("latency", latency),
	)
	return res, nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	err := fmt.Errorf("status %d: %s", code, msg)
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return retry.Transient(fmt.Errorf("%w: %w", scoring.ErrEvaluatorUnavailable, err))
	}
	return fmt.Errorf("evaluator request rejected: %w", err)
}
