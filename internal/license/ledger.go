package license

import (
	"context"

	"github.com/rs/zerolog"

	"license-reseller/internal/events"
)

// CreditLedger adjusts reseller balances. It enforces no floor; callers that
// debit must check the balance under LockReseller first.
type CreditLedger struct {
	store     ResellerStore
	locks     *keyedMutex
	publisher Publisher
	logger    zerolog.Logger
}

// NewCreditLedger creates a ledger over store
func NewCreditLedger(store ResellerStore, publisher Publisher, logger zerolog.Logger) *CreditLedger {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &CreditLedger{
		store:     store,
		locks:     newKeyedMutex(),
		publisher: publisher,
		logger:    logger.With().Str("component", "CreditLedger").Logger(),
	}
}

// LockReseller serializes balance check and debit for one reseller
func (l *CreditLedger) LockReseller(resellerID int64) func() {
	return l.locks.Lock(resellerID)
}

// Adjust applies delta to the reseller's balance
func (l *CreditLedger) Adjust(ctx context.Context, resellerID int64, delta int64) (*Reseller, error) {
	reseller, err := l.store.AdjustResellerCredits(ctx, resellerID, delta)
	if err != nil {
		return nil, err
	}
	if reseller == nil {
		return nil, ErrResellerNotFound
	}

	l.logger.Debug().
		Int64("reseller_id", resellerID).
		Int64("delta", delta).
		Int64("balance", reseller.Credits).
		Msg("Credits adjusted")

	l.publisher.Publish(events.Event{
		Type: events.EventCreditsAdjusted,
		Data: map[string]interface{}{
			"reseller_id": resellerID,
			"delta":       delta,
			"balance":     reseller.Credits,
		},
	})

	return reseller, nil
}

// Grant adds amount credits to a reseller
func (l *CreditLedger) Grant(ctx context.Context, resellerID int64, amount int64) (*Reseller, error) {
	if amount <= 0 {
		return nil, Invalid("amount must be positive")
	}

	unlock := l.LockReseller(resellerID)
	defer unlock()

	reseller, err := l.Adjust(ctx, resellerID, amount)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Int64("reseller_id", resellerID).
		Int64("amount", amount).
		Int64("balance", reseller.Credits).
		Msg("Credits granted")

	return reseller, nil
}

// Balance returns the current balance of a reseller
func (l *CreditLedger) Balance(ctx context.Context, resellerID int64) (int64, error) {
	reseller, err := l.store.FindReseller(ctx, resellerID)
	if err != nil {
		return 0, err
	}
	if reseller == nil {
		return 0, ErrResellerNotFound
	}
	return reseller.Credits, nil
}
