package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fill 成交模型（GORM），append-only
type Fill struct {
	FillID         string          `gorm:"primaryKey;column:fill_id" json:"fill_id"`
	OrderID        string          `gorm:"column:order_id;index" json:"order_id"`
	UserID         string          `gorm:"column:user_id;index" json:"user_id"`
	Symbol         string          `gorm:"column:symbol" json:"symbol"`
	Side           OrderSide       `gorm:"column:side;type:varchar(8)" json:"side"`
	ExecutionPrice decimal.Decimal `gorm:"column:execution_price;type:decimal(32,16)" json:"execution_price"`
	ExecutedAmount decimal.Decimal `gorm:"column:executed_amount;type:decimal(32,16)" json:"executed_amount"`
	Fee            decimal.Decimal `gorm:"column:fee;type:decimal(32,16)" json:"fee"`
	FeeAsset       string          `gorm:"column:fee_asset;type:varchar(16)" json:"fee_asset"`
	Timestamp      int64           `gorm:"column:timestamp;index" json:"timestamp"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Fill) TableName() string {
	return "fills"
}
