package evaluator

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/scoring"
)

// Static evaluator defaults.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42
	minKeywordLength  = 4
	baseStaticScore   = 3
	pointsPerKeyword  = 2
)

// StaticOption configures a Static evaluator.
type StaticOption func(*Static)

// WithLatencyRange sets the simulated upstream latency. A zero range
// disables the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) StaticOption {
	return func(s *Static) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithStaticModel sets the model whose prices the evaluator charges.
func WithStaticModel(name string) StaticOption {
	return func(s *Static) {
		if name != "" {
			s.model = name
		}
	}
}

// WithStaticPrices replaces the price table.
func WithStaticPrices(p scoring.TokenPrices) StaticOption {
	return func(s *Static) {
		if len(p) > 0 {
			s.prices = p
		}
	}
}

// Static scores listings without a network call. The score grows with the
// number of preference keywords found in the listing text; the charge is the
// estimated token usage at the configured model's prices.
type Static struct {
	model      string
	prices     scoring.TokenPrices
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

var _ scoring.Evaluator = (*Static)(nil)

// NewStatic returns a deterministic evaluator.
func NewStatic(opts ...StaticOption) *Static {
	s := &Static{
		model:      DefaultModel,
		prices:     scoring.DefaultTokenPrices(),
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic latency for reproducible runs
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the priced model name.
func (s *Static) Model() string {
	return s.model
}

// Evaluate scores the pair after the simulated latency.
func (s *Static) Evaluate(ctx context.Context, user model.User, listing model.Listing) (scoring.Result, error) {
	latency := s.latency()
	if latency > 0 {
		select {
		case <-ctx.Done():
			return scoring.Result{}, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-time.After(latency):
		}
	} else if err := ctx.Err(); err != nil {
		return scoring.Result{}, fmt.Errorf("context cancelled: %w", err)
	}

	matched := matchedKeywords(user.PreferenceProfile, listing.Title+" "+listing.Neighborhood+" "+listing.Description())
	score := baseStaticScore + pointsPerKeyword*len(matched) + jitter(user.ID, listing.ID)
	score = max(model.MinScore, min(model.MaxScore, score))

	reasoning := "No stated preferences found in the listing."
	if len(matched) > 0 {
		reasoning = "Listing mentions " + strings.Join(matched, ", ") + "."
	}

	return scoring.Result{
		Score:        score,
		Reasoning:    model.TruncateReasoning(reasoning),
		InputTokens:  scoring.EstimatedInputTokens,
		OutputTokens: scoring.EstimatedOutputTokens,
		CostUSD:      s.prices.Cost(s.model, scoring.EstimatedInputTokens, scoring.EstimatedOutputTokens),
		ModelUsed:    s.model,
		Latency:      latency,
	}, nil
}

func (s *Static) latency() time.Duration {
	if s.maxLatency <= s.minLatency {
		return s.minLatency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLatency + time.Duration(s.rng.Int63n(int64(s.maxLatency-s.minLatency)))
}

// matchedKeywords returns the distinct profile words of at least
// minKeywordLength letters that occur in text, in profile order.
func matchedKeywords(profile, text string) []string {
	haystack := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(profile), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < minKeywordLength || seen[w] {
			continue
		}
		seen[w] = true
		if strings.Contains(haystack, w) {
			out = append(out, w)
		}
	}
	return out
}

// jitter adds 0 or 1 point derived from the pair so equal keyword counts
// don't always tie.
func jitter(userID, listingID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(listingID))
	return int(h.Sum32() % 2)
}
