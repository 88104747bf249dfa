package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"sensextrader/internal/db/conf"
	"sensextrader/internal/journal"
	"sensextrader/internal/position"
	"sensextrader/internal/signal"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present.
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

var _ Storage = (*Default)(nil)

// Default is the Postgres-backed Storage.
type Default struct {
	db *sql.DB
}

// New wraps an already-open test database.
func New(c *conf.Config) (*Default, error) {
	return &Default{db: c.DB}, nil
}

// Open connects to Postgres and verifies the connection.
func Open(connStr string, maxOpen, maxIdle int) (*Default, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Default{db: db}, nil
}

func (p *Default) GetDB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Default) Close() error { return p.db.Close() }

// executeWithTransaction runs fn inside the context transaction when one is
// present, otherwise in a fresh transaction committed on success.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// SaveOrder upserts one order attempt.
func (p *Default) SaveOrder(ctx context.Context, o OrderRecord) error {
	if o.OrderID == "" {
		return fmt.Errorf("save order: missing order id")
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, symbol, exchange, side, type, quantity, price, status, mode, strategy, placed_at, open)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (order_id) DO UPDATE SET
			status=EXCLUDED.status, open=EXCLUDED.open`,
			o.OrderID, o.Symbol, o.Exchange, o.Side, o.Type, o.Quantity,
			o.Price, o.Status, o.Mode, o.Strategy, o.PlacedAt, o.Open)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
		}
		return nil
	})
}

func (p *Default) GetOpenOrders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT order_id, symbol, exchange, side, type, quantity, price, status, mode, strategy, placed_at, open
		FROM orders WHERE open ORDER BY placed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.OrderID, &o.Symbol, &o.Exchange, &o.Side, &o.Type,
			&o.Quantity, &o.Price, &o.Status, &o.Mode, &o.Strategy, &o.PlacedAt, &o.Open); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Default) CloseOrder(ctx context.Context, orderID string) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE orders SET open=false WHERE order_id=$1`, orderID)
		if err != nil {
			return fmt.Errorf("failed to close order %s: %w", orderID, err)
		}
		return nil
	})
}

// SaveTrade persists a closed position.
func (p *Default) SaveTrade(ctx context.Context, pos *position.Position) error {
	if pos.Status != position.StatusClosed {
		return fmt.Errorf("save trade %s: position is not closed", pos.ID)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, asset, exchange, direction, quantity, entry_price, entry_time,
			stop_loss, target, capital_used, sector, strategy, mode, order_id,
			exit_price, exit_time, pnl, exit_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO NOTHING`,
			pos.ID, pos.Asset, pos.Exchange, string(pos.Direction), pos.Quantity,
			pos.Entry, pos.EntryTime, pos.Stop, pos.Target, pos.CapitalUsed,
			pos.Sector, pos.Strategy, pos.Mode, pos.OrderID,
			pos.ExitPrice, pos.ExitTime, pos.PnL, pos.ExitReason)
		if err != nil {
			return fmt.Errorf("failed to save trade %s: %w", pos.ID, err)
		}
		return nil
	})
}

func (p *Default) GetTrades(ctx context.Context, start, end time.Time) ([]*position.Position, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, asset, exchange, direction, quantity, entry_price, entry_time,
			stop_loss, target, capital_used, sector, strategy, mode, order_id,
			exit_price, exit_time, pnl, exit_reason
		FROM trades WHERE exit_time >= $1 AND exit_time < $2 ORDER BY exit_time ASC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		var pos position.Position
		var direction string
		if err := rows.Scan(&pos.ID, &pos.Asset, &pos.Exchange, &direction, &pos.Quantity,
			&pos.Entry, &pos.EntryTime, &pos.Stop, &pos.Target, &pos.CapitalUsed,
			&pos.Sector, &pos.Strategy, &pos.Mode, &pos.OrderID,
			&pos.ExitPrice, &pos.ExitTime, &pos.PnL, &pos.ExitReason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		pos.Direction = signal.Direction(direction)
		pos.Status = position.StatusClosed
		out = append(out, &pos)
	}
	return out, rows.Err()
}

// LogEvent journals one event with its payload as JSONB.
func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, type, description, data FROM events
		WHERE type=$1 AND time >= $2 AND time < $3 ORDER BY time ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var e journal.Event
		var raw []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
