// Package position models the lifecycle of a single trade. A Position is
// created OPEN by the execution engine and closed exactly once; every field
// populated by Close is immutable afterwards.
package position

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sensextrader/internal/signal"
)

// Status of a position. There is no transition back from CLOSED.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Exit reasons recorded on close.
const (
	ExitStopLoss  = "STOP_LOSS"
	ExitTarget    = "TARGET"
	ExitManual    = "MANUAL"
	ExitEmergency = "EMERGENCY"
)

// Position is one tracked trade. The engine is the only writer; the mutex
// serializes Close against concurrent exit checks so a position can never be
// closed twice.
type Position struct {
	ID          string           `json:"id"`
	Asset       string           `json:"asset"`
	Exchange    string           `json:"exchange"`
	Direction   signal.Direction `json:"direction"`
	Quantity    int              `json:"quantity"`
	Entry       float64          `json:"entry_price"`
	EntryTime   time.Time        `json:"entry_time"`
	Stop        float64          `json:"stop_loss"`
	Target      float64          `json:"target"`
	CapitalUsed float64          `json:"capital_used"`
	Sector      string           `json:"sector,omitempty"`
	Strategy    string           `json:"strategy"`
	Mode        string           `json:"mode"`
	OrderID     string           `json:"order_id"`

	Status     string    `json:"status"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitTime   time.Time `json:"exit_time,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"`

	mu sync.Mutex
}

// Params carries everything needed to open a position.
type Params struct {
	Asset       string
	Exchange    string
	Direction   signal.Direction
	Quantity    int
	Entry       float64
	Stop        float64
	Target      float64
	CapitalUsed float64
	Sector      string
	Strategy    string
	Mode        string
	OrderID     string
}

// Open creates an OPEN position with a fresh ULID.
func Open(p Params, now time.Time) (*Position, error) {
	if p.Quantity <= 0 {
		return nil, fmt.Errorf("open %s: quantity must be positive, got %d", p.Asset, p.Quantity)
	}
	if p.Entry <= 0 {
		return nil, fmt.Errorf("open %s: entry price must be positive, got %.2f", p.Asset, p.Entry)
	}
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return &Position{
		ID:          ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		Asset:       p.Asset,
		Exchange:    p.Exchange,
		Direction:   p.Direction,
		Quantity:    p.Quantity,
		Entry:       p.Entry,
		EntryTime:   now,
		Stop:        p.Stop,
		Target:      p.Target,
		CapitalUsed: p.CapitalUsed,
		Sector:      p.Sector,
		Strategy:    p.Strategy,
		Mode:        p.Mode,
		OrderID:     p.OrderID,
		Status:      StatusOpen,
	}, nil
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Status == StatusOpen
}

// UnrealizedPnL values the position at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return pnl(p.Direction, p.Entry, price, p.Quantity)
}

// Notional is the position's entry value.
func (p *Position) Notional() float64 {
	return p.Entry * float64(p.Quantity)
}

// CheckExit reports whether price has crossed the stop or target. Both
// comparisons are crossed-or-equal so an exact touch of the level exits.
func (p *Position) CheckExit(price float64) (reason string, hit bool) {
	if p.Direction.BuySide() {
		if price <= p.Stop {
			return ExitStopLoss, true
		}
		if price >= p.Target {
			return ExitTarget, true
		}
		return "", false
	}
	if price >= p.Stop {
		return ExitStopLoss, true
	}
	if price <= p.Target {
		return ExitTarget, true
	}
	return "", false
}

// Close transitions the position to CLOSED, computing realized PnL. Closing
// an already-closed position is an error and mutates nothing.
func (p *Position) Close(price float64, reason string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status == StatusClosed {
		return fmt.Errorf("position %s already closed (%s at %.2f)", p.ID, p.ExitReason, p.ExitPrice)
	}
	p.Status = StatusClosed
	p.ExitPrice = price
	p.ExitTime = now
	p.ExitReason = reason
	p.PnL = pnl(p.Direction, p.Entry, price, p.Quantity)
	return nil
}

// pnl is direction-aware: buy-side profits when price rises, sell-side when
// it falls.
func pnl(d signal.Direction, entry, price float64, qty int) float64 {
	if d.BuySide() {
		return (price - entry) * float64(qty)
	}
	return (entry - price) * float64(qty)
}
