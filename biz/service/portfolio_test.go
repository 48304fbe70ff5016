package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cex-core/biz/service"
	"cex-core/biz/testutil"
)

func TestPortfolioWeightedAverageCost(t *testing.T) {
	store := testutil.NewMemStore()
	tracker := service.NewPortfolioTracker(store)
	ctx := context.Background()

	// 1 BTC @ 40000, then 1 BTC @ 50000: avg 45000
	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnBuy(tx, "u1", "BTC", d("1"), d("40000"))
	}))
	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnBuy(tx, "u1", "BTC", d("1"), d("50000"))
	}))

	positions, err := tracker.Positions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Amount.Equal(d("2")))
	assert.True(t, positions[0].AvgCost().Equal(d("45000")), "avg %s", positions[0].AvgCost())
}

func TestPortfolioSellKeepsAvgCost(t *testing.T) {
	store := testutil.NewMemStore()
	tracker := service.NewPortfolioTracker(store)
	ctx := context.Background()

	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnBuy(tx, "u1", "BTC", d("2"), d("45000"))
	}))
	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnSell(tx, "u1", "BTC", d("0.5"))
	}))

	positions, err := tracker.Positions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Amount.Equal(d("1.5")))
	// selling scales invested down proportionally, the avg stays put
	assert.True(t, positions[0].AvgCost().Equal(d("45000")))
	assert.True(t, positions[0].TotalInvested.Equal(d("67500")))
}

func TestPortfolioFullSellRemovesPosition(t *testing.T) {
	store := testutil.NewMemStore()
	tracker := service.NewPortfolioTracker(store)
	ctx := context.Background()

	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnBuy(tx, "u1", "BTC", d("1"), d("40000"))
	}))
	require.NoError(t, store.Atomic(ctx, func(tx service.StoreTx) error {
		return tracker.OnSell(tx, "u1", "BTC", d("1"))
	}))

	positions, err := tracker.Positions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}
