package model

import "github.com/shopspring/decimal"

// Balance 用户余额（available/locked 永远 >= 0）
type Balance struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	UserID    string          `gorm:"column:user_id;uniqueIndex:idx_user_asset;not null" json:"user_id"`
	Asset     string          `gorm:"column:asset;uniqueIndex:idx_user_asset;type:varchar(16);not null" json:"asset"`
	Available decimal.Decimal `gorm:"column:available;type:decimal(32,16);not null" json:"available"`
	Locked    decimal.Decimal `gorm:"column:locked;type:decimal(32,16);not null" json:"locked"`
	UpdatedAt int64           `gorm:"column:updated_at" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

// Position 用户持仓（加权平均成本）
type Position struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	UserID        string          `gorm:"column:user_id;uniqueIndex:idx_user_pos;not null" json:"user_id"`
	Asset         string          `gorm:"column:asset;uniqueIndex:idx_user_pos;type:varchar(16);not null" json:"asset"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,16);not null" json:"amount"`
	TotalInvested decimal.Decimal `gorm:"column:total_invested;type:decimal(32,16);not null" json:"total_invested"`
	UpdatedAt     int64           `gorm:"column:updated_at" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// AvgCost is TotalInvested / Amount, zero for an empty position.
func (p *Position) AvgCost() decimal.Decimal {
	if p.Amount.IsZero() {
		return decimal.Zero
	}
	return p.TotalInvested.Div(p.Amount)
}
