package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"cex-core/biz/model"
)

// MatchWorker polls the oracle on a fixed period and settles resting
// orders whose conditions the current price satisfies. It shares the
// settlement path with synchronous market execution.
type MatchWorker struct {
	store    Store
	svc      *OrderService
	oracle   PriceOracle
	interval time.Duration
}

func NewMatchWorker(store Store, svc *OrderService, oracle PriceOracle, interval time.Duration) *MatchWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MatchWorker{store: store, svc: svc, oracle: oracle, interval: interval}
}

// Run blocks until ctx is cancelled.
func (w *MatchWorker) Run(ctx context.Context) {
	hlog.Infof("match worker: started, interval %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hlog.Info("match worker: stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one matching pass: load resting orders, fetch one price per
// distinct symbol, evaluate each order against its symbol's price. Every
// order failure is logged and isolated; one bad order never stalls the
// pass.
func (w *MatchWorker) Tick(ctx context.Context) {
	orders, err := w.store.MatchableOrders(ctx)
	if err != nil {
		hlog.Errorf("match worker: load orders: %v", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	symbols := make([]string, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for i := range orders {
		if _, ok := seen[orders[i].Symbol]; !ok {
			seen[orders[i].Symbol] = struct{}{}
			symbols = append(symbols, orders[i].Symbol)
		}
	}

	prices, err := w.oracle.GetPrices(ctx, symbols)
	if err != nil {
		hlog.Warnf("match worker: oracle unavailable, skipping pass: %v", err)
		return
	}

	for i := range orders {
		price, ok := prices[orders[i].Symbol]
		if !ok {
			continue
		}
		w.processOrder(ctx, &orders[i], price)
	}
}

// processOrder re-locks the order inside a transaction and re-checks its
// status before acting, so a concurrent cancel or fill between snapshot
// and settlement wins cleanly.
func (w *MatchWorker) processOrder(ctx context.Context, snap *model.Order, price decimal.Decimal) {
	var outcome *fillOutcome
	err := w.store.Atomic(ctx, func(tx StoreTx) error {
		outcome = nil
		o, sib, err := lockOrderPair(tx, snap.OrderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		switch o.Status {
		case model.StatusPending:
			outcome, err = w.evalPending(tx, o, sib, price)
			return err
		case model.StatusOpen, model.StatusPartiallyFilled:
			if !limitMatched(o, price) {
				return nil
			}
			outcome, err = w.fill(tx, o, sib, o.LimitPrice.Decimal)
			return err
		default:
			return nil
		}
	})
	if err != nil {
		hlog.Errorf("match worker: order %s: %v", snap.OrderID, err)
		return
	}
	if outcome != nil {
		w.svc.applyOutcome(ctx, outcome)
	}
}

// evalPending handles conditional orders: ratchet trailing stops, fire
// triggers. Pure stops execute at the live price; limit-bearing stops
// transition to OPEN and may fill in the same pass if their limit is
// already satisfied.
func (w *MatchWorker) evalPending(tx StoreTx, o, sib *model.Order, price decimal.Decimal) (*fillOutcome, error) {
	switch o.Type {
	case model.TypeTrailingStop:
		if triggered(o, price) {
			return w.fillLive(tx, o, sib, price)
		}
		candidate := trailingStop(o.Side, price, o.TrailingDelta.Decimal)
		if ratchets(o.Side, candidate, o.StopPrice.Decimal) {
			o.StopPrice = decimal.NewNullDecimal(candidate)
			o.UpdatedAt = time.Now().UnixMilli()
			return nil, tx.SaveOrder(o)
		}
		return nil, nil

	case model.TypeStopLoss, model.TypeTakeProfit:
		if !triggered(o, price) {
			return nil, nil
		}
		return w.fillLive(tx, o, sib, price)

	case model.TypeStopLossLimit, model.TypeTakeProfitLimit:
		if !triggered(o, price) {
			return nil, nil
		}
		o.Status = model.StatusOpen
		o.UpdatedAt = time.Now().UnixMilli()
		if err := tx.SaveOrder(o); err != nil {
			return nil, err
		}
		if limitMatched(o, price) {
			return w.fill(tx, o, sib, o.LimitPrice.Decimal)
		}
		return nil, nil

	default:
		return nil, inconsistencyf("match", "order %s is PENDING with non-conditional type %s", o.OrderID, o.Type)
	}
}

// fillLive settles at the live price. A buy whose cost has gapped past
// its buffered reservation can never settle, so it is rejected and its
// reservation released instead of erroring on every pass.
func (w *MatchWorker) fillLive(tx StoreTx, o, sib *model.Order, price decimal.Decimal) (*fillOutcome, error) {
	if o.Side == model.SideBuy && o.RemainingAmount.Mul(price).GreaterThan(o.ReservedAmount) {
		return w.reject(tx, o, sib, price)
	}
	return w.fill(tx, o, sib, price)
}

// reject terminates an unfillable order, releasing whatever reservation
// still backs it. An OCO sibling dies with it: the shared reservation is
// released exactly once, here.
func (w *MatchWorker) reject(tx StoreTx, o, sib *model.Order, price decimal.Decimal) (*fillOutcome, error) {
	hlog.Warnf("match worker: order %s cost at price %s exceeds reservation %s, rejecting",
		o.OrderID, price, o.ReservedAmount)
	if o.ReservedAmount.Sign() > 0 {
		if err := w.svc.ledger.Release(tx, o.UserID, o.ReservedAsset, o.ReservedAmount); err != nil {
			return nil, err
		}
	}
	now := time.Now().UnixMilli()
	o.Status = model.StatusRejected
	o.ReservedAmount = decimal.Zero
	o.UpdatedAt = now
	if err := tx.SaveOrder(o); err != nil {
		return nil, err
	}
	out := &fillOutcome{order: o}
	if sib != nil && sib.Status.IsCancellable() {
		sib.Status = model.StatusCancelled
		sib.ReservedAmount = decimal.Zero
		sib.UpdatedAt = now
		if err := tx.SaveOrder(sib); err != nil {
			return nil, err
		}
		out.sibling = sib
	}
	return out, nil
}

// fill settles the order and cancels an OCO sibling in the same
// transaction. The shared reservation is consumed by the settle, so the
// sibling is cancelled without a release.
func (w *MatchWorker) fill(tx StoreTx, o, sib *model.Order, execPrice decimal.Decimal) (*fillOutcome, error) {
	out, err := w.svc.executeFillTx(tx, o, execPrice)
	if err != nil {
		return nil, err
	}
	if sib != nil && sib.Status.IsCancellable() {
		sib.Status = model.StatusCancelled
		sib.ReservedAmount = decimal.Zero
		sib.UpdatedAt = time.Now().UnixMilli()
		if err := tx.SaveOrder(sib); err != nil {
			return nil, err
		}
		out.sibling = sib
	}
	return out, nil
}

// triggered reports whether the stop condition fired. Stop-losses fire
// when the price moves against the position, take-profits when it moves
// in favor; trailing stops behave like stop-losses against the ratcheted
// stop.
func triggered(o *model.Order, price decimal.Decimal) bool {
	stop := o.StopPrice.Decimal
	switch o.Type {
	case model.TypeStopLoss, model.TypeStopLossLimit, model.TypeTrailingStop:
		if o.Side == model.SideSell {
			return price.LessThanOrEqual(stop)
		}
		return price.GreaterThanOrEqual(stop)
	case model.TypeTakeProfit, model.TypeTakeProfitLimit:
		if o.Side == model.SideSell {
			return price.GreaterThanOrEqual(stop)
		}
		return price.LessThanOrEqual(stop)
	}
	return false
}

func limitMatched(o *model.Order, price decimal.Decimal) bool {
	if !o.LimitPrice.Valid {
		return false
	}
	if o.Side == model.SideBuy {
		return price.LessThanOrEqual(o.LimitPrice.Decimal)
	}
	return price.GreaterThanOrEqual(o.LimitPrice.Decimal)
}

// ratchets reports whether candidate tightens the trail: a sell trail
// only rises, a buy trail only falls.
func ratchets(side model.OrderSide, candidate, current decimal.Decimal) bool {
	if side == model.SideSell {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}
