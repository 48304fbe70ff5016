package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cex-core/biz/model"
)

// PortfolioTracker maintains the weighted-average-cost position per
// (user, base asset). It is derived bookkeeping: the financial settlement
// is authoritative, so a tracker failure is logged by the caller and never
// rolls a settlement back.
type PortfolioTracker struct {
	store Store
}

func NewPortfolioTracker(store Store) *PortfolioTracker {
	return &PortfolioTracker{store: store}
}

// OnBuy re-averages the cost basis:
// avgCost' = (totalInvested + amount*price) / (oldAmount + amount).
func (p *PortfolioTracker) OnBuy(tx StoreTx, userID, asset string, amount, price decimal.Decimal) error {
	pos, err := tx.PositionForUpdate(userID, asset)
	if err != nil {
		return err
	}
	pos.Amount = pos.Amount.Add(amount)
	pos.TotalInvested = pos.TotalInvested.Add(amount.Mul(price))
	pos.UpdatedAt = time.Now().UnixMilli()
	return tx.SavePosition(pos)
}

// OnSell scales totalInvested down by remaining/old so the average cost
// stays put; the row is deleted once the position hits zero.
func (p *PortfolioTracker) OnSell(tx StoreTx, userID, asset string, amount decimal.Decimal) error {
	pos, err := tx.PositionForUpdate(userID, asset)
	if err != nil {
		return err
	}
	if pos.Amount.LessThanOrEqual(amount) {
		return tx.DeletePosition(userID, asset)
	}
	remaining := pos.Amount.Sub(amount)
	pos.TotalInvested = pos.TotalInvested.Mul(remaining).Div(pos.Amount)
	pos.Amount = remaining
	pos.UpdatedAt = time.Now().UnixMilli()
	return tx.SavePosition(pos)
}

// Positions lists a user's positions.
func (p *PortfolioTracker) Positions(ctx context.Context, userID string) ([]model.Position, error) {
	return p.store.PositionsByUser(ctx, userID)
}
