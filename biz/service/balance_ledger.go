package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cex-core/biz/model"
)

// Ledger owns every financial mutation. The four primitives below are the
// only paths that touch Balance.Available/Locked, so the
// available+locked-never-lies invariant holds independently of which order
// type produced the mutation.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve moves amount from available to locked. Fails closed with
// ErrInsufficientFunds: the precondition is checked on the row-locked
// balance and nothing mutates when it does not hold.
func (l *Ledger) Reserve(tx StoreTx, userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return inconsistencyf("reserve", "non-positive amount %s", amount)
	}
	b, err := tx.BalanceForUpdate(userID, asset)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	b.UpdatedAt = time.Now().UnixMilli()
	return tx.SaveBalance(b)
}

// Release moves amount back from locked to available. Callers guarantee
// locked covers the amount; a shortfall is a broken invariant, not a
// user error.
func (l *Ledger) Release(tx StoreTx, userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return inconsistencyf("release", "negative amount %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	b, err := tx.BalanceForUpdate(userID, asset)
	if err != nil {
		return err
	}
	if b.Locked.LessThan(amount) {
		return inconsistencyf("release", "user=%s asset=%s locked=%s release=%s", userID, asset, b.Locked, amount)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now().UnixMilli()
	return tx.SaveBalance(b)
}

// Settle consumes a reservation and credits the counter asset in one
// atomic step: spend leaves locked for good, refund (unused slippage
// buffer) returns from locked to available, creditAmount lands on the
// credit asset's available. A crash between the two halves is impossible
// because both run inside the caller's transaction.
func (l *Ledger) Settle(tx StoreTx, userID, debitAsset string, spend, refund decimal.Decimal, creditAsset string, creditAmount decimal.Decimal) error {
	if spend.Sign() < 0 || refund.Sign() < 0 || creditAmount.Sign() < 0 {
		return inconsistencyf("settle", "negative leg spend=%s refund=%s credit=%s", spend, refund, creditAmount)
	}
	now := time.Now().UnixMilli()

	debit, err := tx.BalanceForUpdate(userID, debitAsset)
	if err != nil {
		return err
	}
	total := spend.Add(refund)
	if debit.Locked.LessThan(total) {
		return inconsistencyf("settle", "user=%s asset=%s locked=%s consume=%s", userID, debitAsset, debit.Locked, total)
	}
	debit.Locked = debit.Locked.Sub(total)
	debit.Available = debit.Available.Add(refund)
	debit.UpdatedAt = now
	if err := tx.SaveBalance(debit); err != nil {
		return err
	}

	credit, err := tx.BalanceForUpdate(userID, creditAsset)
	if err != nil {
		return err
	}
	credit.Available = credit.Available.Add(creditAmount)
	credit.UpdatedAt = now
	return tx.SaveBalance(credit)
}

// Credit unconditionally increments available. Deposits and rewards live
// outside this core but share the primitive.
func (l *Ledger) Credit(tx StoreTx, userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return inconsistencyf("credit", "non-positive amount %s", amount)
	}
	b, err := tx.BalanceForUpdate(userID, asset)
	if err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now().UnixMilli()
	return tx.SaveBalance(b)
}

// Deposit is the standalone form of Credit for external top-ups.
func (l *Ledger) Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return validationErrorf("deposit amount must be positive")
	}
	return l.store.Atomic(ctx, func(tx StoreTx) error {
		return l.Credit(tx, userID, asset, amount)
	})
}

// Balances lists a user's balances.
func (l *Ledger) Balances(ctx context.Context, userID string) ([]model.Balance, error) {
	return l.store.BalancesByUser(ctx, userID)
}
