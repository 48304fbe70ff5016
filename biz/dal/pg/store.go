package pg

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cex-core/biz/model"
	"cex-core/biz/service"
)

// Store implements service.Store on postgres through gorm. Row locks
// (SELECT ... FOR UPDATE) linearize per-balance and per-order mutations.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Atomic(ctx context.Context, fn func(tx service.StoreTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&storeTx{db: tx})
	})
}

func (s *Store) OrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) OrdersByUser(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	var orders []model.Order
	db := s.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	err := db.Order("created_at desc").Find(&orders).Error
	return orders, err
}

func (s *Store) MatchableOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).
		Where("status IN ? AND type <> ?",
			[]model.OrderStatus{model.StatusPending, model.StatusOpen, model.StatusPartiallyFilled},
			model.TypeMarket).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

func (s *Store) FillsByOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	var fills []model.Fill
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("timestamp asc").Find(&fills).Error
	return fills, err
}

func (s *Store) BalancesByUser(ctx context.Context, userID string) ([]model.Balance, error) {
	var balances []model.Balance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&balances).Error
	return balances, err
}

func (s *Store) PositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&positions).Error
	return positions, err
}

type storeTx struct {
	db *gorm.DB
}

func (t *storeTx) BalanceForUpdate(userID, asset string) (*model.Balance, error) {
	var b model.Balance
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// lazy creation on first touch; the fresh row is exclusively ours
		// until the transaction commits
		b = model.Balance{UserID: userID, Asset: asset, Available: decimal.Zero, Locked: decimal.Zero}
		if err := t.db.Create(&b).Error; err != nil {
			return nil, err
		}
		return &b, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *storeTx) SaveBalance(b *model.Balance) error {
	return t.db.Save(b).Error
}

func (t *storeTx) InsertOrder(o *model.Order) error {
	return t.db.Create(o).Error
}

func (t *storeTx) OrderByID(orderID string) (*model.Order, error) {
	var o model.Order
	err := t.db.Where("order_id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *storeTx) OrderForUpdate(orderID string) (*model.Order, error) {
	var o model.Order
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *storeTx) SaveOrder(o *model.Order) error {
	return t.db.Save(o).Error
}

func (t *storeTx) InsertFill(f *model.Fill) error {
	return t.db.Create(f).Error
}

func (t *storeTx) PositionForUpdate(userID, asset string) (*model.Position, error) {
	var p model.Position
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = model.Position{UserID: userID, Asset: asset, Amount: decimal.Zero, TotalInvested: decimal.Zero}
		if err := t.db.Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *storeTx) SavePosition(p *model.Position) error {
	return t.db.Save(p).Error
}

func (t *storeTx) DeletePosition(userID, asset string) error {
	return t.db.Where("user_id = ? AND asset = ?", userID, asset).Delete(&model.Position{}).Error
}
