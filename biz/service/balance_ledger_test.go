package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cex-core/biz/model"
	"cex-core/biz/service"
	"cex-core/biz/testutil"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedBalance(store *testutil.MemStore, userID, asset, available string) {
	store.Seed(userID, asset, model.Balance{Available: d(available)})
}

func TestLedgerReserve(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	seedBalance(store, "u1", "USDT", "1000")

	err := store.Atomic(context.Background(), func(tx service.StoreTx) error {
		return ledger.Reserve(tx, "u1", "USDT", d("400"))
	})
	require.NoError(t, err)

	b := store.Balance("u1", "USDT")
	assert.True(t, b.Available.Equal(d("600")), "available %s", b.Available)
	assert.True(t, b.Locked.Equal(d("400")), "locked %s", b.Locked)
}

func TestLedgerReserveInsufficientFundsFailsClosed(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	seedBalance(store, "u1", "USDT", "100")

	err := store.Atomic(context.Background(), func(tx service.StoreTx) error {
		return ledger.Reserve(tx, "u1", "USDT", d("100.01"))
	})
	require.ErrorIs(t, err, service.ErrInsufficientFunds)

	// nothing moved
	b := store.Balance("u1", "USDT")
	assert.True(t, b.Available.Equal(d("100")))
	assert.True(t, b.Locked.IsZero())
}

func TestLedgerRelease(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	ctx := context.Background()
	seedBalance(store, "u1", "USDT", "1000")

	err := store.Atomic(ctx, func(tx service.StoreTx) error {
		if err := ledger.Reserve(tx, "u1", "USDT", d("400")); err != nil {
			return err
		}
		return ledger.Release(tx, "u1", "USDT", d("400"))
	})
	require.NoError(t, err)

	b := store.Balance("u1", "USDT")
	assert.True(t, b.Available.Equal(d("1000")))
	assert.True(t, b.Locked.IsZero())
}

func TestLedgerReleaseBeyondLockedIsInconsistency(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	seedBalance(store, "u1", "USDT", "1000")

	err := store.Atomic(context.Background(), func(tx service.StoreTx) error {
		return ledger.Release(tx, "u1", "USDT", d("1"))
	})
	require.Error(t, err)
	assert.True(t, service.IsInconsistency(err))
}

func TestLedgerSettleWithRefund(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	ctx := context.Background()
	seedBalance(store, "u1", "USDT", "1000")

	// reserve 502.5, spend 500, refund 2.5, credit 0.0999 BTC
	err := store.Atomic(ctx, func(tx service.StoreTx) error {
		if err := ledger.Reserve(tx, "u1", "USDT", d("502.5")); err != nil {
			return err
		}
		return ledger.Settle(tx, "u1", "USDT", d("500"), d("2.5"), "BTC", d("0.0999"))
	})
	require.NoError(t, err)

	usdt := store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("500")), "available %s", usdt.Available)
	assert.True(t, usdt.Locked.IsZero(), "locked %s", usdt.Locked)
	btc := store.Balance("u1", "BTC")
	assert.True(t, btc.Available.Equal(d("0.0999")))
}

func TestLedgerSettleOverconsumeRollsBack(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	ctx := context.Background()
	seedBalance(store, "u1", "USDT", "1000")

	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return ledger.Reserve(tx, "u1", "USDT", d("100"))
	}))

	err := store.Atomic(ctx, func(tx service.StoreTx) error {
		return ledger.Settle(tx, "u1", "USDT", d("150"), d("0"), "BTC", d("1"))
	})
	require.Error(t, err)
	assert.True(t, service.IsInconsistency(err))

	usdt := store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("900")))
	assert.True(t, usdt.Locked.Equal(d("100")))
	assert.True(t, store.Balance("u1", "BTC").Available.IsZero())
}

func TestLedgerDeposit(t *testing.T) {
	store := testutil.NewMemStore()
	ledger := service.NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.Deposit(ctx, "u1", "USDT", d("250")))
	require.NoError(t, ledger.Deposit(ctx, "u1", "USDT", d("250")))

	b := store.Balance("u1", "USDT")
	assert.True(t, b.Available.Equal(d("500")))

	err := ledger.Deposit(ctx, "u1", "USDT", d("0"))
	assert.True(t, service.IsValidation(err))
}
