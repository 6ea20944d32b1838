// Package repository persists users, listings, evaluations and evaluation
// runs, and selects the candidate listings of a user.
package repository

import (
	"context"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// UserStore reads and writes user profiles and wallets.
type UserStore interface {
	// GetUser returns ErrNotFound for an unknown id.
	GetUser(ctx context.Context, id string) (model.User, error)
	// SaveUser inserts or replaces the user row.
	SaveUser(ctx context.Context, u model.User) error
	// EligibleUsers lists users with a preference profile and at least
	// minCredits left.
	EligibleUsers(ctx context.Context, minCredits float64) ([]model.User, error)
}

// ListingStore gives access to ingested listings. Listings are read-only to
// the matching engine; SaveListing exists for ingestion and seeding.
type ListingStore interface {
	SaveListing(ctx context.Context, l model.Listing) error
	GetListing(ctx context.Context, id string) (model.Listing, error)
}

// CandidateSelector returns listings that pass a user's hard filters and
// have no evaluation for that user yet, most recently ingested first.
type CandidateSelector interface {
	SelectCandidates(ctx context.Context, user model.User, limit int) ([]model.Listing, error)
}

// RecommendationReader reads a user's scored listings.
type RecommendationReader interface {
	// TopRecommendations orders by score desc, then evaluation time desc.
	TopRecommendations(ctx context.Context, userID string, limit int) ([]model.Recommendation, error)
	EvaluationStatus(ctx context.Context, userID string) (model.EvaluationStatus, error)
}

// RunStore records evaluation runs.
type RunStore interface {
	StartRun(ctx context.Context, run model.Run) error
	FinishRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
}

// Tx is the set of writes that must commit together for one evaluated
// listing.
type Tx interface {
	// UpsertEvaluation inserts or replaces the (user, listing) evaluation.
	UpsertEvaluation(ctx context.Context, e model.Evaluation) error
	// DeductCredits lowers the wallet by amount without clamping.
	DeductCredits(ctx context.Context, userID string, amount float64) error
	// RecordRunProgress adds one completed evaluation to a run.
	RecordRunProgress(ctx context.Context, runID string, costUSD float64) error
	// CreditBalance reads the wallet inside the transaction.
	CreditBalance(ctx context.Context, userID string) (float64, error)
}

// UnitOfWork runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is everything the matching engine needs from persistence.
type Store interface {
	UserStore
	ListingStore
	CandidateSelector
	RecommendationReader
	RunStore
	UnitOfWork
	Ping(ctx context.Context) error
	Close()
}
