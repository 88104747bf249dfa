package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"sensextrader/internal/journal"
	"sensextrader/internal/position"
)

var _ Storage = (*Memory)(nil)

// Memory is the in-process Storage used by tests and as the fallback when
// Postgres is unreachable at start. Nothing survives a restart.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]OrderRecord
	trades []*position.Position
	events []journal.Event
}

func NewMemory() *Memory {
	return &Memory{orders: make(map[string]OrderRecord)}
}

// GetDB returns nil: there is no SQL connection behind the memory store.
func (m *Memory) GetDB() *sql.DB { return nil }

func (m *Memory) SaveOrder(ctx context.Context, o OrderRecord) error {
	if o.OrderID == "" {
		return fmt.Errorf("save order: missing order id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	return nil
}

func (m *Memory) GetOpenOrders(ctx context.Context) ([]OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrderRecord
	for _, o := range m.orders {
		if o.Open {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) CloseOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("close order: unknown order %s", orderID)
	}
	o.Open = false
	m.orders[orderID] = o
	return nil
}

func (m *Memory) SaveTrade(ctx context.Context, p *position.Position) error {
	if p.Status != position.StatusClosed {
		return fmt.Errorf("save trade %s: position is not closed", p.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, p)
	return nil
}

func (m *Memory) GetTrades(ctx context.Context, start, end time.Time) ([]*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*position.Position
	for _, p := range m.trades {
		if !p.ExitTime.Before(start) && p.ExitTime.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}
