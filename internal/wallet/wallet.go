// Package wallet holds the client-side view of an account balance: updated
// optimistically for instant feedback, rolled back when the server rejects
// the action and overwritten whenever an authoritative balance arrives from
// the live-update stream or a poll.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrIntentInFlight is returned when a second optimistic mutation starts
// before the first one settled. There is a single rollback value, so intents
// are serialized.
var ErrIntentInFlight = errors.New("another balance intent is in flight")

// CommitFunc performs the durable server-side mutation and returns the
// confirmed balance.
type CommitFunc func(ctx context.Context) (decimal.Decimal, error)

type Wallet struct {
	mu sync.Mutex

	balance decimal.Decimal

	// Pre-action value captured before the optimistic mutation, valid only
	// while optimistic is set.
	rollback   decimal.Decimal
	optimistic bool

	// Bumped on every authoritative overwrite, so a rollback can tell
	// whether the server pushed a fresher balance while the intent was in
	// flight.
	generation uint64
}

func New(balance decimal.Decimal) *Wallet {
	return &Wallet{balance: balance}
}

// Balance returns the currently displayed balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// SetAuthoritative overwrites the displayed balance with a server-confirmed
// value. This is an overwrite, not a merge: the ledger is the only source of
// truth.
func (w *Wallet) SetAuthoritative(balance decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = balance
	w.generation++
}

// Apply runs one optimistic mutation: the displayed balance changes by delta
// immediately, then commit performs the durable change. On success the
// displayed balance becomes the server-confirmed value; on any failure it is
// rolled back to the pre-action value. The wallet is never left in the
// optimistic state.
func (w *Wallet) Apply(ctx context.Context, delta decimal.Decimal, commit CommitFunc) (decimal.Decimal, error) {
	w.mu.Lock()
	if w.optimistic {
		w.mu.Unlock()
		return w.Balance(), ErrIntentInFlight
	}
	w.rollback = w.balance
	w.balance = w.balance.Add(delta)
	w.optimistic = true
	generation := w.generation
	w.mu.Unlock()

	confirmed, err := commit(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.optimistic = false

	if err != nil {
		// An authoritative overwrite that arrived mid-flight beats the
		// captured rollback value.
		if w.generation == generation {
			w.balance = w.rollback
		}
		return w.balance, err
	}

	w.balance = confirmed
	return w.balance, nil
}

// Spend is Apply for a debit: the optimistic delta is -amount.
func (w *Wallet) Spend(ctx context.Context, amount decimal.Decimal, commit CommitFunc) (decimal.Decimal, error) {
	return w.Apply(ctx, amount.Neg(), commit)
}
