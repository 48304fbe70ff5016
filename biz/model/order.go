package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	TypeTrailingStop    OrderType = "TRAILING_STOP"
)

// IsConditional reports whether execution waits on a price trigger.
func (t OrderType) IsConditional() bool {
	switch t {
	case TypeStopLoss, TypeStopLossLimit, TypeTakeProfit, TypeTakeProfitLimit, TypeTrailingStop:
		return true
	}
	return false
}

// HasLimitPrice reports whether the type executes at its own limit price.
func (t OrderType) HasLimitPrice() bool {
	switch t {
	case TypeLimit, TypeStopLossLimit, TypeTakeProfitLimit:
		return true
	}
	return false
}

type OrderStatus string

const (
	// StatusPending marks a conditional order waiting on its trigger.
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// IsCancellable reports whether the order still holds a live reservation.
func (s OrderStatus) IsCancellable() bool {
	return s == StatusPending || s == StatusOpen || s == StatusPartiallyFilled
}

// Order 订单模型（GORM）
type Order struct {
	OrderID string `gorm:"primaryKey;column:order_id" json:"order_id"`
	UserID  string `gorm:"column:user_id;index" json:"user_id"`
	Symbol  string `gorm:"column:symbol;index" json:"symbol"`

	Side OrderSide `gorm:"column:side;type:varchar(8)" json:"side"`
	Type OrderType `gorm:"column:type;type:varchar(20)" json:"type"`

	LimitPrice    decimal.NullDecimal `gorm:"column:limit_price;type:decimal(32,16)" json:"limit_price"`
	StopPrice     decimal.NullDecimal `gorm:"column:stop_price;type:decimal(32,16)" json:"stop_price"`
	TrailingDelta decimal.NullDecimal `gorm:"column:trailing_delta;type:decimal(32,16)" json:"trailing_delta"`

	RequestedAmount decimal.Decimal `gorm:"column:requested_amount;type:decimal(32,16)" json:"requested_amount"`
	FilledAmount    decimal.Decimal `gorm:"column:filled_amount;type:decimal(32,16)" json:"filled_amount"`
	RemainingAmount decimal.Decimal `gorm:"column:remaining_amount;type:decimal(32,16)" json:"remaining_amount"`

	// ReservedAmount is the quantity of ReservedAsset moved to locked at
	// creation. Released exactly once: on settlement or on cancellation.
	ReservedAsset  string          `gorm:"column:reserved_asset;type:varchar(16)" json:"reserved_asset"`
	ReservedAmount decimal.Decimal `gorm:"column:reserved_amount;type:decimal(32,16)" json:"reserved_amount"`

	Status OrderStatus `gorm:"column:status;type:varchar(20);index" json:"status"`

	// LinkedOrderID joins the two legs of an OCO pair. The legs share one
	// reservation; only one leg can execute.
	LinkedOrderID string `gorm:"column:linked_order_id;index" json:"linked_order_id,omitempty"`

	CreatedAt int64          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64          `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Order) TableName() string {
	return "orders"
}

// BaseAsset returns the left half of a BASE-QUOTE symbol.
func (o *Order) BaseAsset() string {
	base, _ := SplitSymbol(o.Symbol)
	return base
}

// QuoteAsset returns the right half of a BASE-QUOTE symbol.
func (o *Order) QuoteAsset() string {
	_, quote := SplitSymbol(o.Symbol)
	return quote
}

// SplitSymbol splits "BTC-USDT" into ("BTC", "USDT").
func SplitSymbol(symbol string) (base, quote string) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, ""
}
