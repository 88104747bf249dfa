// Package db persists orders, closed trades and journal events. The Postgres
// implementation is the primary store; the in-memory implementation serves
// tests and deployments where the database is unreachable at start.
package db

import (
	"context"
	"database/sql"
	"time"

	"sensextrader/internal/journal"
	"sensextrader/internal/position"
)

// OrderRecord is one order attempt as persisted.
type OrderRecord struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Side     string    `json:"side"`
	Type     string    `json:"type"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
	Status   string    `json:"status"`
	Mode     string    `json:"mode"`
	Strategy string    `json:"strategy"`
	PlacedAt time.Time `json:"placed_at"`
	Open     bool      `json:"open"`
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB

	SaveOrder(ctx context.Context, o OrderRecord) error
	GetOpenOrders(ctx context.Context) ([]OrderRecord, error)
	CloseOrder(ctx context.Context, orderID string) error

	SaveTrade(ctx context.Context, p *position.Position) error
	GetTrades(ctx context.Context, start, end time.Time) ([]*position.Position, error)

	journal.Journaler
}
