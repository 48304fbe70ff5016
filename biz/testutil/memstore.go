// Package testutil provides an in-memory Store so service tests run
// without postgres. Transactions take one big lock and roll back by
// restoring a snapshot, which is enough to exercise the same code paths
// the row-locked gorm store serves in production.
package testutil

import (
	"context"
	"sync"

	"cex-core/biz/model"
	"cex-core/biz/service"
)

type MemStore struct {
	mu        sync.Mutex
	balances  map[string]model.Balance  // key user|asset
	orders    map[string]model.Order    // key orderID
	positions map[string]model.Position // key user|asset
	fills     []model.Fill
	orderSeq  []string // insertion order, MatchableOrders is created_at asc
}

func NewMemStore() *MemStore {
	return &MemStore{
		balances:  make(map[string]model.Balance),
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
	}
}

func key(userID, asset string) string { return userID + "|" + asset }

// Seed sets an available balance outside any transaction.
func (s *MemStore) Seed(userID, asset string, b model.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.UserID = userID
	b.Asset = asset
	s.balances[key(userID, asset)] = b
}

func (s *MemStore) Atomic(ctx context.Context, fn func(tx service.StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	balances  map[string]model.Balance
	orders    map[string]model.Order
	positions map[string]model.Position
	fills     []model.Fill
	orderSeq  []string
}

func (s *MemStore) snapshot() snapshotState {
	snap := snapshotState{
		balances:  make(map[string]model.Balance, len(s.balances)),
		orders:    make(map[string]model.Order, len(s.orders)),
		positions: make(map[string]model.Position, len(s.positions)),
		fills:     append([]model.Fill(nil), s.fills...),
		orderSeq:  append([]string(nil), s.orderSeq...),
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.positions {
		snap.positions[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap snapshotState) {
	s.balances = snap.balances
	s.orders = snap.orders
	s.positions = snap.positions
	s.fills = snap.fills
	s.orderSeq = snap.orderSeq
}

func (s *MemStore) OrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, service.ErrNotFound
	}
	return &o, nil
}

func (s *MemStore) OrdersByUser(ctx context.Context, userID string, status model.OrderStatus) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *MemStore) MatchableOrders(ctx context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.Type == model.TypeMarket {
			continue
		}
		switch o.Status {
		case model.StatusPending, model.StatusOpen, model.StatusPartiallyFilled:
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemStore) FillsByOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemStore) BalancesByUser(ctx context.Context, userID string) ([]model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Balance
	for _, b := range s.balances {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) PositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Balance reads one balance row directly, for assertions.
func (s *MemStore) Balance(userID, asset string) model.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[key(userID, asset)]
}

// Order reads one order directly, for assertions.
func (s *MemStore) Order(orderID string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// Fills returns all fills, for assertions.
func (s *MemStore) Fills() []model.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Fill(nil), s.fills...)
}

type memTx struct {
	s *MemStore
}

func (t *memTx) BalanceForUpdate(userID, asset string) (*model.Balance, error) {
	b, ok := t.s.balances[key(userID, asset)]
	if !ok {
		b = model.Balance{UserID: userID, Asset: asset}
		t.s.balances[key(userID, asset)] = b
	}
	out := b
	return &out, nil
}

func (t *memTx) SaveBalance(b *model.Balance) error {
	t.s.balances[key(b.UserID, b.Asset)] = *b
	return nil
}

func (t *memTx) InsertOrder(o *model.Order) error {
	t.s.orders[o.OrderID] = *o
	t.s.orderSeq = append(t.s.orderSeq, o.OrderID)
	return nil
}

func (t *memTx) OrderByID(orderID string) (*model.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, service.ErrNotFound
	}
	out := o
	return &out, nil
}

func (t *memTx) OrderForUpdate(orderID string) (*model.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, service.ErrNotFound
	}
	out := o
	return &out, nil
}

func (t *memTx) SaveOrder(o *model.Order) error {
	t.s.orders[o.OrderID] = *o
	return nil
}

func (t *memTx) InsertFill(f *model.Fill) error {
	t.s.fills = append(t.s.fills, *f)
	return nil
}

func (t *memTx) PositionForUpdate(userID, asset string) (*model.Position, error) {
	p, ok := t.s.positions[key(userID, asset)]
	if !ok {
		p = model.Position{UserID: userID, Asset: asset}
		t.s.positions[key(userID, asset)] = p
	}
	out := p
	return &out, nil
}

func (t *memTx) SavePosition(p *model.Position) error {
	t.s.positions[key(p.UserID, p.Asset)] = *p
	return nil
}

func (t *memTx) DeletePosition(userID, asset string) error {
	delete(t.s.positions, key(userID, asset))
	return nil
}
