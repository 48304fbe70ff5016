package testutil

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"cex-core/biz/service"
)

// FakeOracle serves prices from a fixed map and fails for symbols it
// does not know, mirroring the batch semantics of the HTTP oracle.
type FakeOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	Err    error
}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{prices: make(map[string]decimal.Decimal)}
}

func (f *FakeOracle) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *FakeOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, service.ErrOracleUnavailable
	}
	return p, nil
}

func (f *FakeOracle) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	if len(out) == 0 && len(symbols) > 0 {
		return out, service.ErrOracleUnavailable
	}
	return out, nil
}

// RecordedEvent is one emitter call.
type RecordedEvent struct {
	UserID string
	Type   string
}

// RecordingEmitter captures lifecycle events for assertions.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (r *RecordingEmitter) Notify(userID, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{UserID: userID, Type: eventType})
}

func (r *RecordingEmitter) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

func (r *RecordingEmitter) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
