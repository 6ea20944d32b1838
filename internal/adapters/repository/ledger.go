package repository

import (
	"context"
	"fmt"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/pkg/logger"
)

// Ledger commits an evaluation, the matching credit deduction and the run
// progress as one unit.
type Ledger struct {
	uow UnitOfWork
	log logger.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger that reports overdrawn wallets.
func WithLedgerLogger(l logger.Logger) LedgerOption {
	return func(ld *Ledger) {
		if l != nil {
			ld.log = l
		}
	}
}

// NewLedger returns a ledger over uow.
func NewLedger(uow UnitOfWork, opts ...LedgerOption) *Ledger {
	l := &Ledger{uow: uow}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Named("ledger")
	}
	return l
}

// CommitEvaluation upserts e, deducts its cost from the user's wallet and,
// when runID is set, adds it to the run record. Deductions are never clamped;
// a wallet that goes negative is logged once the commit succeeds.
func (l *Ledger) CommitEvaluation(ctx context.Context, runID string, e model.Evaluation) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var balance float64
	err := l.uow.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.UpsertEvaluation(ctx, e); err != nil {
			return fmt.Errorf("upsert evaluation: %w", err)
		}
		if err := tx.DeductCredits(ctx, e.UserID, e.CostUSD); err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}
		var err error
		if balance, err = tx.CreditBalance(ctx, e.UserID); err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if runID == "" {
			return nil
		}
		if err := tx.RecordRunProgress(ctx, runID, e.CostUSD); err != nil {
			return fmt.Errorf("record run progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if balance < 0 {
		l.log.Warn(ctx, "wallet overdrawn",
			logger.String("user_id", e.UserID),
			logger.String("run_id", runID),
			logger.Float64("balance", balance),
		)
	}
	return nil
}
