package service

import (
	"context"

	"cex-core/biz/model"
)

// Store is the transactional boundary over the relational backend.
// Every mutation of balances, orders, fills or positions happens inside
// Atomic; the StoreTx accessors take row locks so that concurrent
// reservations or a cancel racing a worker fill serialize on the same row.
type Store interface {
	// Atomic runs fn in one transaction; any error rolls everything back.
	Atomic(ctx context.Context, fn func(tx StoreTx) error) error

	OrderByID(ctx context.Context, orderID string) (*model.Order, error)
	OrdersByUser(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error)
	// MatchableOrders returns non-market orders still waiting for the
	// match worker: OPEN limit orders plus PENDING/OPEN conditionals.
	MatchableOrders(ctx context.Context) ([]model.Order, error)
	FillsByOrder(ctx context.Context, orderID string) ([]model.Fill, error)
	BalancesByUser(ctx context.Context, userID string) ([]model.Balance, error)
	PositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
}

// StoreTx is the row-locked view inside one transaction.
type StoreTx interface {
	// BalanceForUpdate returns the locked balance row, creating a zero row
	// lazily so first credits and reserve checks share one code path.
	BalanceForUpdate(userID, asset string) (*model.Balance, error)
	SaveBalance(b *model.Balance) error

	InsertOrder(o *model.Order) error
	// OrderByID reads without locking; used to learn an OCO link before
	// choosing lock order.
	OrderByID(orderID string) (*model.Order, error)
	// OrderForUpdate locks the order row; the status re-check before a
	// worker settlement must happen on this locked row.
	OrderForUpdate(orderID string) (*model.Order, error)
	SaveOrder(o *model.Order) error

	InsertFill(f *model.Fill) error

	PositionForUpdate(userID, asset string) (*model.Position, error)
	SavePosition(p *model.Position) error
	DeletePosition(userID, asset string) error
}
