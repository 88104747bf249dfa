// Package broker presents one gateway contract over the ICICI Breeze and
// Zerodha Kite REST APIs plus an in-process paper simulator. All network and
// decoding failures are converted to the errs taxonomy at this boundary;
// nothing above it sees a raw transport error.
package broker

import (
	"context"
	"strings"
	"time"

	"sensextrader/internal/errs"
	"sensextrader/internal/market"
)

// Snapshot source tiers for the margins/positions fallback chain.
const (
	SourceLive    = "live"
	SourceCached  = "cached"
	SourceDefault = "default"
)

// Order sides and types in the normalized request.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeMarket = "market"
	TypeLimit  = "limit"
)

// Order result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// OrderRequest is the broker-independent order envelope. Price 0 means a
// market order. The option fields are only set for derivatives.
type OrderRequest struct {
	Symbol   string
	Exchange string
	Side     string
	Type     string
	Quantity int
	Price    float64
	Product  string // "cash", "options"
	Validity string

	// Option leg parameters.
	Expiry string // YYYY-MM-DD
	Strike float64
	Right  string // "call" or "put"

	Tag string // strategy identifier carried to the broker where supported
}

// OrderResult is the normalized placement outcome. Status is success or
// error; Message carries the broker's human-readable reason either way.
type OrderResult struct {
	Status  string
	OrderID string
	Message string
}

// BrokerPosition is one row of a positions snapshot.
type BrokerPosition struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Quantity int     `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	PnL      float64 `json:"pnl"`
}

// PositionsSnapshot is the broker-side open position set, tagged with the
// fallback tier that produced it.
type PositionsSnapshot struct {
	Positions []BrokerPosition `json:"positions"`
	Source    string           `json:"source"`
	Time      time.Time        `json:"timestamp"`
}

// MarginsSnapshot reports available funds, tagged with the fallback tier
// that produced it.
type MarginsSnapshot struct {
	Cash      float64   `json:"cash"`
	Available float64   `json:"available"`
	Used      float64   `json:"used"`
	Segment   string    `json:"segment,omitempty"`
	Source    string    `json:"source"`
	Time      time.Time `json:"timestamp"`
}

// Gateway is the uniform broker contract. Connect validates the session and
// is safe to call again after ErrSessionExpired. Every call honors ctx.
type Gateway interface {
	Name() string
	Connect(ctx context.Context) error
	GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPositions(ctx context.Context) (PositionsSnapshot, error)
	GetMargins(ctx context.Context) (MarginsSnapshot, error)
}

// Resolver maps index symbols to their configured tradable proxies. The
// table is deployment configuration; an index without an entry is refused
// rather than silently proxied.
type Resolver struct {
	indices map[string]bool
	subs    map[string]Substitute
}

// Substitute is the tradable stand-in for an index symbol.
type Substitute struct {
	Symbol   string
	Exchange string
}

// NewResolver builds a resolver from the configured index list and
// substitution table. Keys are matched case-insensitively.
func NewResolver(indices []string, subs map[string]Substitute) *Resolver {
	r := &Resolver{indices: make(map[string]bool, len(indices)), subs: make(map[string]Substitute, len(subs))}
	for _, idx := range indices {
		r.indices[strings.ToUpper(idx)] = true
	}
	for sym, sub := range subs {
		r.subs[strings.ToUpper(sym)] = sub
	}
	return r
}

// Resolve returns the tradable (symbol, exchange) for the requested
// instrument. Non-index symbols pass through unchanged. An index with a
// substitution entry is rewritten; one without is ErrNotTradable.
func (r *Resolver) Resolve(symbol, exchange string) (string, string, error) {
	up := strings.ToUpper(symbol)
	if !r.indices[up] {
		return symbol, exchange, nil
	}
	sub, ok := r.subs[up]
	if !ok {
		return "", "", &NotTradableError{Symbol: symbol}
	}
	ex := sub.Exchange
	if ex == "" {
		ex = exchange
	}
	return sub.Symbol, ex, nil
}

// NotTradableError names the index that has no substitution entry.
type NotTradableError struct {
	Symbol string
}

func (e *NotTradableError) Error() string {
	return "index " + e.Symbol + " is not directly tradable and has no configured substitution"
}

func (e *NotTradableError) Is(target error) bool { return target == errs.ErrNotTradable }
