package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sensextrader/internal/errs"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
)

var _ Gateway = (*Paper)(nil)

// QuoteSource is the slice of Gateway the paper simulator needs for prices.
// In degraded live mode this is the real broker gateway, so paper fills still
// track real quotes; in pure paper mode it can be the fallback source or nil.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error)
}

// Paper simulates fills in-process with no real capital at risk. Orders fill
// immediately at the quoted price adjusted by slippage; commission is
// deducted from simulated cash. Connect never fails.
type Paper struct {
	quotes        QuoteSource
	slippagePct   float64
	commissionPct float64

	mu     sync.RWMutex
	cash   float64
	used   float64
	prices map[string]float64 // manual quotes for symbols with no source
	open   map[string]BrokerPosition
}

// PaperOptions configures the simulator. Cash is the starting simulated
// capital; Quotes may be nil when prices are injected via SetPrice.
type PaperOptions struct {
	Cash          float64
	SlippagePct   float64
	CommissionPct float64
	Quotes        QuoteSource
}

func NewPaper(opts PaperOptions) *Paper {
	return &Paper{
		quotes:        opts.Quotes,
		slippagePct:   opts.SlippagePct,
		commissionPct: opts.CommissionPct,
		cash:          opts.Cash,
		prices:        make(map[string]float64),
		open:          make(map[string]BrokerPosition),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) Connect(ctx context.Context) error {
	logs.Infof("paper gateway ready with simulated cash %.2f", p.Cash())
	return nil
}

// Cash returns the current simulated cash.
func (p *Paper) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// SetPrice injects a quote for symbol, used by tests and offline paper runs
// with no quote source.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}

func (p *Paper) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	if p.quotes != nil {
		if q, err := p.quotes.GetQuote(ctx, symbol, exchange); err == nil {
			p.SetPrice(symbol, q.Price)
			return q, nil
		}
	}
	p.mu.RLock()
	price, ok := p.prices[strings.ToUpper(symbol)]
	p.mu.RUnlock()
	if !ok {
		return market.Quote{}, errs.NoData("paper quote "+symbol, fmt.Errorf("no price on record"))
	}
	return market.Quote{
		Symbol:   symbol,
		Exchange: exchange,
		Price:    price,
		Time:     time.Now(),
		Source:   market.SourceLive,
	}, nil
}

// PlaceOrder fills immediately. Buys fill above the quote by the slippage
// fraction, sells below it, mirroring the cost a market order pays.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Quantity <= 0 {
		rejection := &errs.OrderRejectedError{Broker: "paper", Reason: "quantity must be positive"}
		return OrderResult{Status: StatusError, Message: rejection.Reason}, rejection
	}

	price := req.Price
	if price <= 0 {
		q, err := p.GetQuote(ctx, req.Symbol, req.Exchange)
		if err != nil {
			return OrderResult{Status: StatusError, Message: err.Error()}, err
		}
		price = q.Price
	}
	fill := price
	if strings.EqualFold(req.Side, SideBuy) {
		fill *= 1 + p.slippagePct
	} else {
		fill *= 1 - p.slippagePct
	}
	notional := fill * float64(req.Quantity)
	commission := notional * p.commissionPct

	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.EqualFold(req.Side, SideBuy) && notional+commission > p.cash {
		rejection := &errs.OrderRejectedError{
			Broker: "paper",
			Reason: fmt.Sprintf("insufficient simulated cash: need %.2f, have %.2f", notional+commission, p.cash),
		}
		return OrderResult{Status: StatusError, Message: rejection.Reason}, rejection
	}

	id := "PAPER-" + uuid.NewString()
	qty := req.Quantity
	if !strings.EqualFold(req.Side, SideBuy) {
		qty = -qty
	}
	if strings.EqualFold(req.Side, SideBuy) {
		p.cash -= notional + commission
		p.used += notional
	} else {
		p.cash += notional - commission
		p.used -= notional
		if p.used < 0 {
			p.used = 0
		}
	}
	p.open[id] = BrokerPosition{
		Symbol:   req.Symbol,
		Exchange: req.Exchange,
		Quantity: qty,
		AvgPrice: fill,
	}

	return OrderResult{
		Status:  StatusSuccess,
		OrderID: id,
		Message: fmt.Sprintf("paper fill %d @ %.2f (commission %.2f)", req.Quantity, fill, commission),
	}, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.open[orderID]; !ok {
		return fmt.Errorf("paper cancel: unknown order %s", orderID)
	}
	delete(p.open, orderID)
	return nil
}

func (p *Paper) GetPositions(ctx context.Context) (PositionsSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := PositionsSnapshot{Source: SourceLive, Time: time.Now()}
	for _, pos := range p.open {
		snap.Positions = append(snap.Positions, pos)
	}
	return snap, nil
}

func (p *Paper) GetMargins(ctx context.Context) (MarginsSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return MarginsSnapshot{
		Cash:      p.cash,
		Available: p.cash,
		Used:      p.used,
		Segment:   "simulated",
		Source:    SourceLive,
		Time:      time.Now(),
	}, nil
}
