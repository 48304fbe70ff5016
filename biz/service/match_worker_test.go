package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cex-core/biz/model"
	"cex-core/biz/service"
)

func TestWorkerFillsLimitSellAtLimitPrice(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	order, err := e.svc.CreateOrder(ctx, limitOrder(model.SideSell, "1", "50000"))
	require.NoError(t, err)

	// below the limit: no fill
	e.oracle.SetPrice("BTC-USDT", d("49900"))
	e.worker.Tick(ctx)
	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusOpen, got.Status)

	// through the limit: executes at the limit price, not the live one
	e.oracle.SetPrice("BTC-USDT", d("50100"))
	e.worker.Tick(ctx)

	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)
	fills := e.store.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].ExecutionPrice.Equal(d("50000")))

	// proceeds 50000 minus 0.1% fee
	usdt := e.store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("49950")), "usdt %s", usdt.Available)
	btc := e.store.Balance("u1", "BTC")
	assert.True(t, btc.Available.IsZero())
	assert.True(t, btc.Locked.IsZero())
	assert.Equal(t, 1, e.emitter.Count(service.EventOrderFilled))
}

func TestWorkerFillsLimitBuyWithRefund(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "USDT", "10000")

	order, err := e.svc.CreateOrder(ctx, limitOrder(model.SideBuy, "0.1", "48000"))
	require.NoError(t, err)

	e.oracle.SetPrice("BTC-USDT", d("47500"))
	e.worker.Tick(ctx)

	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)

	// limit buys execute at their limit price, reservation fully consumed
	usdt := e.store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("5200")), "usdt %s", usdt.Available)
	assert.True(t, usdt.Locked.IsZero())
	btc := e.store.Balance("u1", "BTC")
	assert.True(t, btc.Available.Equal(d("0.0999")))
}

func TestWorkerTriggersStopLossAtLivePrice(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	stop := d("45000")
	order, err := e.svc.CreateOrder(ctx, service.CreateOrderParams{
		UserID:    "u1",
		Verified:  true,
		Symbol:    "BTC-USDT",
		Side:      model.SideSell,
		Type:      model.TypeStopLoss,
		Amount:    d("1"),
		StopPrice: &stop,
	})
	require.NoError(t, err)

	e.oracle.SetPrice("BTC-USDT", d("45100"))
	e.worker.Tick(ctx)
	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusPending, got.Status)

	e.oracle.SetPrice("BTC-USDT", d("44000"))
	e.worker.Tick(ctx)

	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)
	fills := e.store.Fills()
	require.Len(t, fills, 1)
	// pure stops execute at the live price
	assert.True(t, fills[0].ExecutionPrice.Equal(d("44000")))
}

func TestWorkerStopLossLimitTriggersThenRestsOpen(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	stop := d("45000")
	limit := d("46000")
	order, err := e.svc.CreateOrder(ctx, service.CreateOrderParams{
		UserID:     "u1",
		Verified:   true,
		Symbol:     "BTC-USDT",
		Side:       model.SideSell,
		Type:       model.TypeStopLossLimit,
		Amount:     d("1"),
		StopPrice:  &stop,
		LimitPrice: &limit,
	})
	require.NoError(t, err)

	// trigger fires but the limit is not met: order rests OPEN
	e.oracle.SetPrice("BTC-USDT", d("44900"))
	e.worker.Tick(ctx)
	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Empty(t, e.store.Fills())

	// price recovers through the limit: fills at the limit price
	e.oracle.SetPrice("BTC-USDT", d("46100"))
	e.worker.Tick(ctx)
	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)
	fills := e.store.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].ExecutionPrice.Equal(d("46000")))
}

func TestWorkerTrailingStopRatchetsAndFills(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")
	e.oracle.SetPrice("BTC-USDT", d("100"))

	delta := d("0.1")
	order, err := e.svc.CreateOrder(ctx, service.CreateOrderParams{
		UserID:        "u1",
		Verified:      true,
		Symbol:        "BTC-USDT",
		Side:          model.SideSell,
		Type:          model.TypeTrailingStop,
		Amount:        d("1"),
		TrailingDelta: &delta,
	})
	require.NoError(t, err)
	assert.True(t, order.StopPrice.Decimal.Equal(d("90")))

	// price runs up: the stop follows at 10% below
	e.oracle.SetPrice("BTC-USDT", d("120"))
	e.worker.Tick(ctx)
	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.StopPrice.Decimal.Equal(d("108")), "stop %s", got.StopPrice.Decimal)

	// a dip that stays above the stop only ratchets nothing
	e.oracle.SetPrice("BTC-USDT", d("110"))
	e.worker.Tick(ctx)
	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.StopPrice.Decimal.Equal(d("108")))

	// dropping through the stop fills at the live price
	e.oracle.SetPrice("BTC-USDT", d("107"))
	e.worker.Tick(ctx)
	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)
	fills := e.store.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].ExecutionPrice.Equal(d("107")))
}

func TestWorkerOCOFillCancelsSibling(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	limitLeg, stopLeg, err := e.svc.CreateOCO(ctx, service.CreateOCOParams{
		UserID:     "u1",
		Verified:   true,
		Symbol:     "BTC-USDT",
		Side:       model.SideSell,
		Amount:     d("1"),
		LimitPrice: d("55000"),
		StopPrice:  d("45000"),
	})
	require.NoError(t, err)

	// stop leg fires; limit leg must die with it
	e.oracle.SetPrice("BTC-USDT", d("44000"))
	e.worker.Tick(ctx)

	stop, _ := e.store.Order(stopLeg.OrderID)
	assert.Equal(t, model.StatusFilled, stop.Status)
	lim, _ := e.store.Order(limitLeg.OrderID)
	assert.Equal(t, model.StatusCancelled, lim.Status)

	// one reservation consumed exactly once
	btc := e.store.Balance("u1", "BTC")
	assert.True(t, btc.Available.IsZero())
	assert.True(t, btc.Locked.IsZero())
	usdt := e.store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("43956")), "usdt %s", usdt.Available)

	assert.Equal(t, 1, e.emitter.Count(service.EventOrderFilled))
	assert.Equal(t, 1, e.emitter.Count(service.EventOrderCancelled))
}

func TestWorkerSkipsCancelledOrder(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	order, err := e.svc.CreateOrder(ctx, limitOrder(model.SideSell, "1", "50000"))
	require.NoError(t, err)

	_, err = e.svc.CancelOrder(ctx, "u1", order.OrderID)
	require.NoError(t, err)

	// matching price, but the status re-check inside the transaction wins
	e.oracle.SetPrice("BTC-USDT", d("50100"))
	e.worker.Tick(ctx)

	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Empty(t, e.store.Fills())
}

func TestWorkerBuyStopFillsAboveTrigger(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "USDT", "10000")

	stop := d("50000")
	order, err := e.svc.CreateOrder(ctx, service.CreateOrderParams{
		UserID:    "u1",
		Verified:  true,
		Symbol:    "BTC-USDT",
		Side:      model.SideBuy,
		Type:      model.TypeStopLoss,
		Amount:    d("0.1"),
		StopPrice: &stop,
	})
	require.NoError(t, err)
	// buy stops settle at the live price, so the reservation carries the
	// same buffer as a market buy
	assert.True(t, order.ReservedAmount.Equal(d("5025")), "reserved %s", order.ReservedAmount)

	// the live price has gapped past the stop but stays inside the buffer
	e.oracle.SetPrice("BTC-USDT", d("50100"))
	e.worker.Tick(ctx)

	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusFilled, got.Status)
	fills := e.store.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].ExecutionPrice.Equal(d("50100")))

	// cost 5010, unused buffer 15 refunded
	usdt := e.store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("4990")), "usdt %s", usdt.Available)
	assert.True(t, usdt.Locked.IsZero())
	btc := e.store.Balance("u1", "BTC")
	assert.True(t, btc.Available.Equal(d("0.0999")))
}

func TestWorkerBuyStopGapBeyondBufferRejects(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "USDT", "10000")

	stop := d("50000")
	order, err := e.svc.CreateOrder(ctx, service.CreateOrderParams{
		UserID:    "u1",
		Verified:  true,
		Symbol:    "BTC-USDT",
		Side:      model.SideBuy,
		Type:      model.TypeStopLoss,
		Amount:    d("0.1"),
		StopPrice: &stop,
	})
	require.NoError(t, err)

	// cost 5060 exceeds the 5025 reservation: the order can never settle
	e.oracle.SetPrice("BTC-USDT", d("50600"))
	e.worker.Tick(ctx)

	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.True(t, got.ReservedAmount.IsZero())
	assert.Empty(t, e.store.Fills())

	// reservation released in full, nothing stuck in locked
	usdt := e.store.Balance("u1", "USDT")
	assert.True(t, usdt.Available.Equal(d("10000")), "usdt %s", usdt.Available)
	assert.True(t, usdt.Locked.IsZero())
	assert.Equal(t, 1, e.emitter.Count(service.EventOrderCancelled))

	// rejected orders leave the matchable set
	e.worker.Tick(ctx)
	got, _ = e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Empty(t, e.store.Fills())
}

func TestCancelRacingWorkerYieldsOneTerminalState(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		e := newEnv()
		seedBalance(e.store, "u1", "BTC", "1")
		order, err := e.svc.CreateOrder(ctx, limitOrder(model.SideSell, "1", "50000"))
		require.NoError(t, err)
		e.oracle.SetPrice("BTC-USDT", d("50100"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = e.svc.CancelOrder(ctx, "u1", order.OrderID)
		}()
		go func() {
			defer wg.Done()
			e.worker.Tick(ctx)
		}()
		wg.Wait()

		got, _ := e.store.Order(order.OrderID)
		btc := e.store.Balance("u1", "BTC")
		usdt := e.store.Balance("u1", "USDT")
		require.True(t, btc.Locked.IsZero(), "round %d: locked %s", i, btc.Locked)
		switch got.Status {
		case model.StatusFilled:
			require.Len(t, e.store.Fills(), 1, "round %d", i)
			require.True(t, btc.Available.IsZero(), "round %d: btc %s", i, btc.Available)
			require.True(t, usdt.Available.Equal(d("49950")), "round %d: usdt %s", i, usdt.Available)
		case model.StatusCancelled:
			require.Empty(t, e.store.Fills(), "round %d", i)
			require.True(t, btc.Available.Equal(d("1")), "round %d: btc %s", i, btc.Available)
			require.True(t, usdt.Available.IsZero(), "round %d: usdt %s", i, usdt.Available)
		default:
			t.Fatalf("round %d: unexpected terminal status %s", i, got.Status)
		}
	}
}

func TestWorkerOracleDownSkipsPass(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seedBalance(e.store, "u1", "BTC", "1")

	order, err := e.svc.CreateOrder(ctx, limitOrder(model.SideSell, "1", "50000"))
	require.NoError(t, err)

	e.oracle.Err = service.ErrOracleUnavailable
	e.worker.Tick(ctx)

	got, _ := e.store.Order(order.OrderID)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Empty(t, e.store.Fills())
}
