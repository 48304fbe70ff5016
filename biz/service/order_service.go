package service

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"cex-core/biz/model"
	"cex-core/conf"
	"cex-core/util"
)

// TradingConfig carries the externally supplied policy knobs.
type TradingConfig struct {
	MinNotional    decimal.Decimal
	MaxNotional    decimal.Decimal // zero means unlimited
	TakerFeeRate   decimal.Decimal
	SlippageBuffer decimal.Decimal // e.g. 0.005 inflates market-buy reservations by 0.5%
	QuoteAssets    []string
}

// TradingConfigFromConf parses the trading section. Bad numbers are a
// deployment error, so this panics at startup like the rest of conf.
func TradingConfigFromConf() TradingConfig {
	t := conf.GetConf().Trading
	cfg := TradingConfig{
		MinNotional:    decimal.RequireFromString(t.MinNotional),
		TakerFeeRate:   decimal.RequireFromString(t.TakerFeeRate),
		SlippageBuffer: decimal.RequireFromString(t.SlippageBuffer),
		QuoteAssets:    util.ParseList(t.QuoteAssets),
	}
	if t.MaxNotional != "" {
		cfg.MaxNotional = decimal.RequireFromString(t.MaxNotional)
	}
	return cfg
}

// OrderService validates and creates orders, settles market orders
// synchronously and cancels open orders, releasing their reservation.
type OrderService struct {
	store   Store
	ledger  *Ledger
	tracker *PortfolioTracker
	oracle  PriceOracle
	emitter EventEmitter
	cfg     TradingConfig
}

func NewOrderService(store Store, ledger *Ledger, tracker *PortfolioTracker, oracle PriceOracle, emitter EventEmitter, cfg TradingConfig) *OrderService {
	return &OrderService{
		store:   store,
		ledger:  ledger,
		tracker: tracker,
		oracle:  oracle,
		emitter: emitter,
		cfg:     cfg,
	}
}

type CreateOrderParams struct {
	UserID   string
	Verified bool // supplied by the upstream compliance gate
	Symbol   string
	Side     model.OrderSide
	Type     model.OrderType
	Amount   decimal.Decimal

	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TrailingDelta *decimal.Decimal
}

func (s *OrderService) CreateOrder(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}

	refPrice, err := s.referencePrice(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.checkNotional(p.Amount, refPrice); err != nil {
		return nil, err
	}

	order, err := s.buildOrder(p, refPrice)
	if err != nil {
		return nil, err
	}

	var outcome *fillOutcome
	err = s.store.Atomic(ctx, func(tx StoreTx) error {
		outcome = nil
		if err := s.ledger.Reserve(tx, order.UserID, order.ReservedAsset, order.ReservedAmount); err != nil {
			return err
		}
		if err := tx.InsertOrder(order); err != nil {
			return err
		}
		if order.Type == model.TypeMarket {
			// market orders settle inside the creation transaction
			out, err := s.executeFillTx(tx, order, refPrice)
			if err != nil {
				return err
			}
			outcome = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Notify(order.UserID, EventOrderCreated, order)
	if outcome != nil {
		s.applyOutcome(ctx, outcome)
	}
	return order, nil
}

type CreateOCOParams struct {
	UserID         string
	Verified       bool
	Symbol         string
	Side           model.OrderSide
	Amount         decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	StopLimitPrice *decimal.Decimal
}

// CreateOCO creates two linked legs sharing one reservation: a limit leg
// and a stop leg. Execution of either cancels the other; the shared
// reservation is settled or released exactly once.
func (s *OrderService) CreateOCO(ctx context.Context, p CreateOCOParams) (*model.Order, *model.Order, error) {
	if !p.Verified {
		return nil, nil, validationErrorf("user is not verified")
	}
	if p.Amount.Sign() <= 0 {
		return nil, nil, validationErrorf("amount must be positive")
	}
	if err := s.checkSymbol(p.Symbol); err != nil {
		return nil, nil, err
	}
	if p.LimitPrice.Sign() <= 0 || p.StopPrice.Sign() <= 0 {
		return nil, nil, validationErrorf("limit and stop prices must be positive")
	}
	switch p.Side {
	case model.SideSell:
		if !p.LimitPrice.GreaterThan(p.StopPrice) {
			return nil, nil, validationErrorf("oco sell requires limit price above stop price")
		}
	case model.SideBuy:
		if !p.LimitPrice.LessThan(p.StopPrice) {
			return nil, nil, validationErrorf("oco buy requires limit price below stop price")
		}
	default:
		return nil, nil, validationErrorf("invalid side %q", p.Side)
	}
	if p.StopLimitPrice != nil && p.StopLimitPrice.Sign() <= 0 {
		return nil, nil, validationErrorf("stop limit price must be positive")
	}
	if err := s.checkNotional(p.Amount, p.LimitPrice); err != nil {
		return nil, nil, err
	}

	base, quote := model.SplitSymbol(p.Symbol)
	reservedAsset := base
	reservedAmount := p.Amount
	if p.Side == model.SideBuy {
		// one reservation must cover whichever leg executes
		worst := decimal.Max(p.LimitPrice, p.StopPrice)
		if p.StopLimitPrice != nil {
			worst = decimal.Max(worst, *p.StopLimitPrice)
		} else {
			// a pure stop leg settles at the live price above the stop
			worst = decimal.Max(worst, p.StopPrice.Mul(decimal.NewFromInt(1).Add(s.cfg.SlippageBuffer)))
		}
		reservedAsset = quote
		reservedAmount = p.Amount.Mul(worst)
	}

	limitID, err := util.GenerateOrderID()
	if err != nil {
		return nil, nil, err
	}
	stopID, err := util.GenerateOrderID()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UnixMilli()
	limitLeg := &model.Order{
		OrderID:         limitID,
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Type:            model.TypeLimit,
		LimitPrice:      decimal.NewNullDecimal(p.LimitPrice),
		RequestedAmount: p.Amount,
		RemainingAmount: p.Amount,
		ReservedAsset:   reservedAsset,
		ReservedAmount:  reservedAmount,
		Status:          model.StatusOpen,
		LinkedOrderID:   stopID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stopLeg := &model.Order{
		OrderID:         stopID,
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Type:            model.TypeStopLoss,
		StopPrice:       decimal.NewNullDecimal(p.StopPrice),
		RequestedAmount: p.Amount,
		RemainingAmount: p.Amount,
		ReservedAsset:   reservedAsset,
		ReservedAmount:  reservedAmount,
		Status:          model.StatusPending,
		LinkedOrderID:   limitID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.StopLimitPrice != nil {
		stopLeg.Type = model.TypeStopLossLimit
		stopLeg.LimitPrice = decimal.NewNullDecimal(*p.StopLimitPrice)
	}

	err = s.store.Atomic(ctx, func(tx StoreTx) error {
		if err := s.ledger.Reserve(tx, p.UserID, reservedAsset, reservedAmount); err != nil {
			return err
		}
		if err := tx.InsertOrder(limitLeg); err != nil {
			return err
		}
		return tx.InsertOrder(stopLeg)
	})
	if err != nil {
		return nil, nil, err
	}

	s.emitter.Notify(p.UserID, EventOrderCreated, limitLeg)
	s.emitter.Notify(p.UserID, EventOrderCreated, stopLeg)
	return limitLeg, stopLeg, nil
}

// CancelOrder releases exactly the reservation still backing the
// remaining quantity and marks the order cancelled. An OCO sibling is
// cancelled in the same transaction without a second release.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	var cancelled, sibling *model.Order
	err := s.store.Atomic(ctx, func(tx StoreTx) error {
		cancelled, sibling = nil, nil
		o, sib, err := lockOrderPair(tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		if !o.Status.IsCancellable() {
			return ErrNotCancellable
		}
		if o.ReservedAmount.Sign() > 0 {
			if err := s.ledger.Release(tx, o.UserID, o.ReservedAsset, o.ReservedAmount); err != nil {
				return err
			}
		}
		now := time.Now().UnixMilli()
		o.Status = model.StatusCancelled
		o.ReservedAmount = decimal.Zero
		o.UpdatedAt = now
		if err := tx.SaveOrder(o); err != nil {
			return err
		}
		cancelled = o
		if sib != nil && sib.Status.IsCancellable() {
			// shared reservation already released above
			sib.Status = model.StatusCancelled
			sib.ReservedAmount = decimal.Zero
			sib.UpdatedAt = now
			if err := tx.SaveOrder(sib); err != nil {
				return err
			}
			sibling = sib
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Notify(cancelled.UserID, EventOrderCancelled, cancelled)
	if sibling != nil {
		s.emitter.Notify(sibling.UserID, EventOrderCancelled, sibling)
	}
	return cancelled, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	return s.store.OrdersByUser(ctx, userID, status)
}

func (s *OrderService) ListFills(ctx context.Context, userID, orderID string) ([]model.Fill, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.store.FillsByOrder(ctx, orderID)
}

func (s *OrderService) validate(p CreateOrderParams) error {
	if !p.Verified {
		return validationErrorf("user is not verified")
	}
	if p.Amount.Sign() <= 0 {
		return validationErrorf("amount must be positive")
	}
	if p.Side != model.SideBuy && p.Side != model.SideSell {
		return validationErrorf("invalid side %q", p.Side)
	}
	if err := s.checkSymbol(p.Symbol); err != nil {
		return err
	}

	needLimit := p.Type.HasLimitPrice()
	needStop := p.Type.IsConditional() && p.Type != model.TypeTrailingStop

	if needLimit {
		if p.LimitPrice == nil || p.LimitPrice.Sign() <= 0 {
			return validationErrorf("limit price required for %s", p.Type)
		}
	} else if p.LimitPrice != nil {
		return validationErrorf("limit price not allowed for %s", p.Type)
	}
	if needStop {
		if p.StopPrice == nil || p.StopPrice.Sign() <= 0 {
			return validationErrorf("stop price required for %s", p.Type)
		}
	}
	switch p.Type {
	case model.TypeMarket, model.TypeLimit, model.TypeStopLoss, model.TypeTakeProfit:
	case model.TypeStopLossLimit:
		// a sell stop-loss-limit keeps its stop below the limit,
		// mirrored for buys
		if p.Side == model.SideSell && !p.StopPrice.LessThan(*p.LimitPrice) {
			return validationErrorf("sell stop-loss-limit requires stop price below limit price")
		}
		if p.Side == model.SideBuy && !p.StopPrice.GreaterThan(*p.LimitPrice) {
			return validationErrorf("buy stop-loss-limit requires stop price above limit price")
		}
	case model.TypeTakeProfitLimit:
		if p.Side == model.SideSell && !p.StopPrice.GreaterThan(*p.LimitPrice) {
			return validationErrorf("sell take-profit-limit requires stop price above limit price")
		}
		if p.Side == model.SideBuy && !p.StopPrice.LessThan(*p.LimitPrice) {
			return validationErrorf("buy take-profit-limit requires stop price below limit price")
		}
	case model.TypeTrailingStop:
		if p.TrailingDelta == nil || p.TrailingDelta.Sign() <= 0 || p.TrailingDelta.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return validationErrorf("trailing delta must be in (0, 1)")
		}
	default:
		return validationErrorf("invalid order type %q", p.Type)
	}
	return nil
}

func (s *OrderService) checkSymbol(symbol string) error {
	_, quote := model.SplitSymbol(symbol)
	if quote == "" {
		return validationErrorf("symbol must look like BASE-QUOTE, got %q", symbol)
	}
	if len(s.cfg.QuoteAssets) == 0 {
		return nil
	}
	for _, q := range s.cfg.QuoteAssets {
		if q == quote {
			return nil
		}
	}
	return validationErrorf("unsupported quote asset %q", quote)
}

func (s *OrderService) checkNotional(amount, price decimal.Decimal) error {
	notional := amount.Mul(price)
	if notional.LessThan(s.cfg.MinNotional) {
		return validationErrorf("order notional %s below minimum %s", notional, s.cfg.MinNotional)
	}
	if s.cfg.MaxNotional.Sign() > 0 && notional.GreaterThan(s.cfg.MaxNotional) {
		return validationErrorf("order notional %s above maximum %s", notional, s.cfg.MaxNotional)
	}
	return nil
}

// referencePrice picks the price used for notional checks and reserve
// sizing. Only MARKET and TRAILING_STOP hit the oracle at call time; the
// other types size against their own configured prices.
func (s *OrderService) referencePrice(ctx context.Context, p CreateOrderParams) (decimal.Decimal, error) {
	switch {
	case p.Type == model.TypeMarket || p.Type == model.TypeTrailingStop:
		return s.oracle.GetPrice(ctx, p.Symbol)
	case p.Type.HasLimitPrice():
		return *p.LimitPrice, nil
	default:
		return *p.StopPrice, nil
	}
}

func (s *OrderService) buildOrder(p CreateOrderParams, refPrice decimal.Decimal) (*model.Order, error) {
	id, err := util.GenerateOrderID()
	if err != nil {
		return nil, err
	}
	base, quote := model.SplitSymbol(p.Symbol)

	reservedAsset := base
	reservedAmount := p.Amount
	if p.Side == model.SideBuy {
		reservedAsset = quote
		reservePrice := refPrice
		one := decimal.NewFromInt(1)
		switch p.Type {
		case model.TypeMarket, model.TypeStopLoss:
			// these settle at the live price, which for a buy sits at or
			// above the reference at execution time; the buffer absorbs
			// the gap and the overshoot is refunded at settlement
			reservePrice = refPrice.Mul(one.Add(s.cfg.SlippageBuffer))
		case model.TypeTrailingStop:
			// the initial trail sits above the anchor for buys and only
			// ratchets down, so it bounds the execution price
			reservePrice = trailingStop(p.Side, refPrice, *p.TrailingDelta).Mul(one.Add(s.cfg.SlippageBuffer))
		}
		reservedAmount = p.Amount.Mul(reservePrice)
	}

	status := model.StatusOpen
	if p.Type.IsConditional() {
		status = model.StatusPending
	}

	now := time.Now().UnixMilli()
	o := &model.Order{
		OrderID:         id,
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Type:            p.Type,
		RequestedAmount: p.Amount,
		RemainingAmount: p.Amount,
		ReservedAsset:   reservedAsset,
		ReservedAmount:  reservedAmount,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.LimitPrice != nil {
		o.LimitPrice = decimal.NewNullDecimal(*p.LimitPrice)
	}
	if p.StopPrice != nil {
		o.StopPrice = decimal.NewNullDecimal(*p.StopPrice)
	}
	if p.Type == model.TypeTrailingStop {
		o.TrailingDelta = decimal.NewNullDecimal(*p.TrailingDelta)
		// initial trail anchored at the current reference price
		o.StopPrice = decimal.NewNullDecimal(trailingStop(p.Side, refPrice, *p.TrailingDelta))
	}
	return o, nil
}

// trailingStop computes the stop implied by a market price and delta: a
// sell trails below the price, a buy trails above it.
func trailingStop(side model.OrderSide, price, delta decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == model.SideSell {
		return price.Mul(one.Sub(delta))
	}
	return price.Mul(one.Add(delta))
}

// fillOutcome carries the post-commit follow-ups of a settlement:
// best-effort portfolio bookkeeping and lifecycle events.
type fillOutcome struct {
	order     *model.Order
	sibling   *model.Order
	fill      *model.Fill
	execPrice decimal.Decimal
}

// executeFillTx settles the order's entire remaining quantity at
// execPrice inside the caller's transaction: fee on the received asset,
// one Fill row, ledger settle with slippage refund, status FILLED. The
// caller must hold the order row lock.
func (s *OrderService) executeFillTx(tx StoreTx, o *model.Order, execPrice decimal.Decimal) (*fillOutcome, error) {
	if execPrice.Sign() <= 0 {
		return nil, inconsistencyf("fill", "non-positive execution price %s", execPrice)
	}
	amount := o.RemainingAmount
	if amount.Sign() <= 0 {
		return nil, inconsistencyf("fill", "order %s has nothing to fill", o.OrderID)
	}

	base, quote := model.SplitSymbol(o.Symbol)
	reserved := o.ReservedAmount

	var fee, spend, refund, creditAmount decimal.Decimal
	var creditAsset, feeAsset string
	if o.Side == model.SideBuy {
		cost := amount.Mul(execPrice)
		if cost.GreaterThan(reserved) {
			return nil, inconsistencyf("fill", "order %s cost %s exceeds reservation %s", o.OrderID, cost, reserved)
		}
		// fee charged on the received (base) asset; the unused part of
		// the reservation flows back to the quote asset
		fee = amount.Mul(s.cfg.TakerFeeRate)
		feeAsset = base
		creditAsset = base
		creditAmount = amount.Sub(fee)
		spend = cost
		refund = reserved.Sub(cost)
	} else {
		if amount.GreaterThan(reserved) {
			return nil, inconsistencyf("fill", "order %s amount %s exceeds reservation %s", o.OrderID, amount, reserved)
		}
		proceeds := amount.Mul(execPrice)
		fee = proceeds.Mul(s.cfg.TakerFeeRate)
		feeAsset = quote
		creditAsset = quote
		creditAmount = proceeds.Sub(fee)
		spend = amount
		refund = reserved.Sub(amount)
	}

	if err := s.ledger.Settle(tx, o.UserID, o.ReservedAsset, spend, refund, creditAsset, creditAmount); err != nil {
		return nil, err
	}

	fillID, err := util.GenerateFillID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	fill := &model.Fill{
		FillID:         fillID,
		OrderID:        o.OrderID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		ExecutionPrice: execPrice,
		ExecutedAmount: amount,
		Fee:            fee,
		FeeAsset:       feeAsset,
		Timestamp:      now,
	}
	if err := tx.InsertFill(fill); err != nil {
		return nil, err
	}

	o.FilledAmount = o.FilledAmount.Add(amount)
	o.RemainingAmount = decimal.Zero
	o.ReservedAmount = decimal.Zero
	o.Status = model.StatusFilled
	o.UpdatedAt = now
	if err := tx.SaveOrder(o); err != nil {
		return nil, err
	}

	return &fillOutcome{order: o, fill: fill, execPrice: execPrice}, nil
}

// applyOutcome runs the post-commit follow-ups. Portfolio tracking is
// best-effort: the settlement already committed, so tracker failures are
// logged, never propagated.
func (s *OrderService) applyOutcome(ctx context.Context, out *fillOutcome) {
	o := out.order
	if out.fill != nil {
		base := o.BaseAsset()
		err := s.store.Atomic(ctx, func(tx StoreTx) error {
			if o.Side == model.SideBuy {
				return s.tracker.OnBuy(tx, o.UserID, base, out.fill.ExecutedAmount.Sub(out.fill.Fee), out.execPrice)
			}
			return s.tracker.OnSell(tx, o.UserID, base, out.fill.ExecutedAmount)
		})
		if err != nil {
			hlog.Errorf("portfolio: order %s position update failed: %v", o.OrderID, err)
		}
		s.emitter.Notify(o.UserID, EventOrderFilled, map[string]any{
			"order": o,
			"fill":  out.fill,
		})
	} else {
		// a worker-side rejection surfaces as a cancellation to subscribers
		s.emitter.Notify(o.UserID, EventOrderCancelled, o)
	}
	if out.sibling != nil {
		s.emitter.Notify(out.sibling.UserID, EventOrderCancelled, out.sibling)
	}
}

// lockOrderPair locks an order and, for OCO legs, its sibling. The link
// is read without a lock first (it is immutable after creation), then
// both rows are locked in ascending orderID order, so a cancel and a
// fill entering from opposite legs always acquire in the same order and
// cannot deadlock.
func lockOrderPair(tx StoreTx, orderID string) (*model.Order, *model.Order, error) {
	peek, err := tx.OrderByID(orderID)
	if err != nil {
		return nil, nil, err
	}
	if peek.LinkedOrderID == "" {
		o, err := tx.OrderForUpdate(orderID)
		return o, nil, err
	}
	first, second := orderID, peek.LinkedOrderID
	if second < first {
		first, second = second, first
	}
	a, err := tx.OrderForUpdate(first)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.OrderForUpdate(second)
	if err != nil {
		return nil, nil, err
	}
	if a.OrderID == orderID {
		return a, b, nil
	}
	return b, a, nil
}
