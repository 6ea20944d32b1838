package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/pricing"
)

// MemoryStore is an in-process Store used for local runs and tests. It
// applies the same filter rules as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]model.User
	listings    map[string]model.Listing
	evaluations map[model.EvaluationKey]model.Evaluation
	runs        map[string]model.Run
	closed      bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]model.User),
		listings:    make(map[string]model.Listing),
		evaluations: make(map[model.EvaluationKey]model.Evaluation),
		runs:        make(map[string]model.Run),
	}
}

func (s *MemoryStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	if err := s.lock(); err != nil {
		return model.User{}, err
	}
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u model.User) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) EligibleUsers(_ context.Context, minCredits float64) ([]model.User, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []model.User
	for _, u := range s.users {
		if strings.TrimSpace(u.PreferenceProfile) != "" && u.EvaluationCredits >= minCredits {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveListing(_ context.Context, l model.Listing) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.listings[l.ID] = l
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (model.Listing, error) {
	if err := s.lock(); err != nil {
		return model.Listing{}, err
	}
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return model.Listing{}, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (s *MemoryStore) SelectCandidates(_ context.Context, user model.User, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	filters := pricing.Filters(user)
	var out []model.Listing
	for _, l := range s.listings {
		if _, scored := s.evaluations[model.EvaluationKey{UserID: user.ID, ListingID: l.ID}]; scored {
			continue
		}
		if matchesFilters(filters, l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TopRecommendations(_ context.Context, userID string, limit int) ([]model.Recommendation, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []model.Recommendation
	for key, e := range s.evaluations {
		if key.UserID != userID {
			continue
		}
		l, ok := s.listings[key.ListingID]
		if !ok {
			continue
		}
		out = append(out, model.Recommendation{Listing: l, Evaluation: e})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Evaluation, out[j].Evaluation
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) EvaluationStatus(_ context.Context, userID string) (model.EvaluationStatus, error) {
	if err := s.lock(); err != nil {
		return model.EvaluationStatus{}, err
	}
	defer s.mu.Unlock()

	var (
		st       model.EvaluationStatus
		scoreSum int
	)
	for key, e := range s.evaluations {
		if key.UserID != userID {
			continue
		}
		st.TotalEvaluations++
		st.TotalCost += e.CostUSD
		scoreSum += e.Score
		if st.LatestEvaluation == nil || e.CreatedAt.After(*st.LatestEvaluation) {
			at := e.CreatedAt
			st.LatestEvaluation = &at
		}
	}
	if st.TotalEvaluations > 0 {
		st.AverageScore = float64(scoreSum) / float64(st.TotalEvaluations)
	}
	return st, nil
}

func (s *MemoryStore) StartRun(_ context.Context, run model.Run) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, run model.Run) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	existing.Status = run.Status
	existing.Stats = run.Stats
	existing.Error = run.Error
	existing.FinishedAt = run.FinishedAt
	s.runs[run.ID] = existing
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, error) {
	if err := s.lock(); err != nil {
		return model.Run{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// EvaluationCount returns the number of stored evaluations for userID.
func (s *MemoryStore) EvaluationCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.evaluations {
		if key.UserID == userID {
			n++
		}
	}
	return n
}

// WithinTx holds the store lock for the duration of fn. Writes go to copies
// of the touched maps, swapped in only when fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	tx := &memTx{
		users:       maps.Clone(s.users),
		evaluations: maps.Clone(s.evaluations),
		runs:        maps.Clone(s.runs),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.users, s.evaluations, s.runs = tx.users, tx.evaluations, tx.runs
	return nil
}

type memTx struct {
	users       map[string]model.User
	evaluations map[model.EvaluationKey]model.Evaluation
	runs        map[string]model.Run
}

func (t *memTx) UpsertEvaluation(_ context.Context, e model.Evaluation) error {
	if existing, ok := t.evaluations[e.Key()]; ok {
		e.ID = existing.ID
	}
	t.evaluations[e.Key()] = e
	return nil
}

func (t *memTx) DeductCredits(_ context.Context, userID string, amount float64) error {
	u, ok := t.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.EvaluationCredits -= amount
	t.users[userID] = u
	return nil
}

func (t *memTx) RecordRunProgress(_ context.Context, runID string, costUSD float64) error {
	r, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	r.Stats.Completed++
	r.Stats.TotalCost += costUSD
	t.runs[runID] = r
	return nil
}

func (t *memTx) CreditBalance(_ context.Context, userID string) (float64, error) {
	u, ok := t.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u.EvaluationCredits, nil
}
