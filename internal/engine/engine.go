// Package engine turns approved signals into tracked positions and manages
// their exits. One engine goroutine owns all mutable trading state: capital,
// the open position set and the day counters. Everything else reads
// snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sensextrader/internal/broker"
	"sensextrader/internal/config"
	"sensextrader/internal/db"
	"sensextrader/internal/errs"
	"sensextrader/internal/journal"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
	"sensextrader/internal/notifier"
	"sensextrader/internal/position"
	"sensextrader/internal/risk"
	"sensextrader/internal/signal"
	"sensextrader/internal/state"
	"sensextrader/internal/strategy"
)

// Publisher receives dashboard snapshots. Satisfied by telemetry.Hub.
type Publisher interface {
	Publish(v any)
}

// dayResetter is implemented by strategies that re-arm at the day rollover.
type dayResetter interface {
	Reset()
}

// Options wires the engine's collaborators. Storage, TradeLog, SignalLog,
// Notifier, StateManager and Telemetry may be nil; the engine degrades to
// not persisting/notifying rather than failing.
type Options struct {
	Config    config.Config
	Gateway   broker.Gateway
	Paper     *broker.Paper // degraded-mode fallback; required in live mode
	Risk      *risk.Manager
	Strategy  strategy.Strategy
	Calendar  *market.Calendar
	History   *market.History
	Storage   db.Storage
	TradeLog  *journal.TradeLog
	SignalLog *journal.SignalLog
	Notifier  notifier.Notifier
	State     *state.Manager
	Telemetry Publisher
	Now       func() time.Time // test clock; defaults to time.Now
}

// Engine is the execution core. Not safe for use from multiple goroutines;
// Run is the single writer.
type Engine struct {
	cfg      config.Config
	gateway  broker.Gateway
	paper    *broker.Paper
	risk     *risk.Manager
	strat    strategy.Strategy
	calendar *market.Calendar
	history  *market.History
	storage  db.Storage
	tradeLog *journal.TradeLog
	sigLog   *journal.SignalLog
	notify   notifier.Notifier
	stateMgr *state.Manager
	hub      Publisher
	now      func() time.Time

	capital       float64
	day           string
	dayTradeCount int
	open          map[string]*position.Position
	failures      int
	degraded      bool
	stopNotified  bool
}

func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("engine requires a broker gateway")
	}
	if opts.Risk == nil {
		return nil, fmt.Errorf("engine requires a risk manager")
	}
	if opts.Calendar == nil {
		return nil, fmt.Errorf("engine requires a market calendar")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		cfg:      opts.Config,
		gateway:  opts.Gateway,
		paper:    opts.Paper,
		risk:     opts.Risk,
		strat:    opts.Strategy,
		calendar: opts.Calendar,
		history:  opts.History,
		storage:  opts.Storage,
		tradeLog: opts.TradeLog,
		sigLog:   opts.SignalLog,
		notify:   opts.Notifier,
		stateMgr: opts.State,
		hub:      opts.Telemetry,
		now:      now,
		capital:  opts.Config.Trading.InitialCapital,
		open:     make(map[string]*position.Position),
	}
	e.day = e.calendar.Day(e.now())
	e.restore()
	return e, nil
}

// restore reloads persisted engine state so a restart resumes monitoring
// open positions.
func (e *Engine) restore() {
	if e.stateMgr == nil {
		return
	}
	st, ok, err := e.stateMgr.Load()
	if err != nil {
		logs.Errorf("engine state unreadable, starting fresh: %v", err)
		return
	}
	if !ok {
		return
	}
	e.capital = st.Capital
	if st.Day == e.day {
		e.dayTradeCount = st.DayTradeCount
		e.risk.RestoreDay(st.DayPnL)
	}
	for _, p := range st.Open {
		if p.Status == position.StatusOpen {
			e.open[p.ID] = p
			e.risk.RegisterOpen(p)
		}
	}
	logs.Infof("restored engine state: capital %.2f, %d open position(s)", e.capital, len(e.open))
}

// Capital returns the engine's current free capital.
func (e *Engine) Capital() float64 { return e.capital }

// OpenCount returns the number of tracked open positions.
func (e *Engine) OpenCount() int { return len(e.open) }

// Degraded reports whether the engine has fallen back to the paper gateway.
func (e *Engine) Degraded() bool { return e.degraded }

// Run drives the poll loop until ctx is cancelled, then performs the
// shutdown close-out.
func (e *Engine) Run(ctx context.Context) error {
	logs.Infof("engine starting: mode=%s broker=%s strategy=%s interval=%s",
		e.cfg.Mode, e.gateway.Name(), e.strategyName(), e.cfg.PollInterval)

	if err := e.connect(ctx); err != nil {
		logs.Errorf("initial connect failed: %v", err)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// connect establishes the broker session, degrading live mode to paper on
// credential problems instead of crashing.
func (e *Engine) connect(ctx context.Context) error {
	err := broker.Retry(ctx, e.cfg.Brokers.RetryAttempts, e.cfg.Brokers.RetryDelay,
		"broker connect", func() error {
			callCtx, cancel := e.callContext(ctx)
			defer cancel()
			return e.gateway.Connect(callCtx)
		})
	if err == nil {
		e.reconcilePositions(ctx)
		return nil
	}
	if e.cfg.Mode == config.ModeLive {
		e.degrade(fmt.Sprintf("connect failed: %v", err))
	}
	return err
}

// reconcilePositions compares the broker's position book against the
// restored engine state after connecting. Mismatches are surfaced for the
// operator; the engine only ever manages positions it opened itself.
func (e *Engine) reconcilePositions(ctx context.Context) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	snap, err := e.gateway.GetPositions(callCtx)
	if err != nil {
		logs.Warnf("position reconciliation skipped: %v", err)
		return
	}
	if len(snap.Positions) != len(e.open) {
		logs.Warnf("broker reports %d position(s) (%s), engine tracks %d",
			len(snap.Positions), snap.Source, len(e.open))
		return
	}
	logs.Infof("position book reconciled: %d open (%s)", len(e.open), snap.Source)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.Brokers.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Cycle runs one poll iteration. Exposed for tests; Run calls it on every
// tick. Never panics and never returns an error: every failure inside a
// cycle is logged and absorbed so the loop always reaches the next tick.
func (e *Engine) Cycle(ctx context.Context) {
	now := e.now()
	e.rolloverIfNewDay(now)

	if !e.calendar.IsOpen(now) {
		logs.Debugf("market closed, skipping cycle")
		return
	}

	e.managePositions(ctx, now)
	e.evaluateSignals(ctx, now)
	e.publishSnapshot()
	e.saveState()
}

// rolloverIfNewDay resets the day counters and re-arms the risk manager
// when the IST calendar day changes.
func (e *Engine) rolloverIfNewDay(now time.Time) {
	day := e.calendar.Day(now)
	if day == e.day {
		return
	}
	if e.risk.TradeCount() > 0 {
		metrics := e.risk.PortfolioRisk()
		summary := fmt.Sprintf("day %s: pnl %.2f, trades %d, win rate %.0f%%, capital %.2f",
			e.day, e.risk.DayPnL(), e.risk.TradeCount(), metrics.WinRate*100, e.capital)
		logs.Info(summary)
		notifier.Notify(e.notify, "End of Day Summary", summary)
	}
	logs.Infof("trading day rollover %s -> %s", e.day, day)
	e.day = day
	e.dayTradeCount = 0
	e.stopNotified = false
	e.risk.ResetDay()
	if r, ok := e.strat.(dayResetter); ok {
		r.Reset()
	}
}

// managePositions refreshes quotes for open positions and closes any that
// crossed stop or target.
func (e *Engine) managePositions(ctx context.Context, now time.Time) {
	for _, p := range e.open {
		callCtx, cancel := e.callContext(ctx)
		q, err := e.gateway.GetQuote(callCtx, p.Asset, p.Exchange)
		cancel()
		if err != nil {
			logs.Warnf("quote refresh for %s failed: %v", p.Asset, err)
			e.recordFailure(err)
			continue
		}
		e.recordSuccess()
		if e.history != nil {
			e.history.Observe(p.Asset, q.Price)
		}

		logs.Debugf("%s @ %.2f, unrealized %.2f", p.Asset, q.Price, p.UnrealizedPnL(q.Price))
		if reason, hit := p.CheckExit(q.Price); hit {
			e.closePosition(ctx, p, q.Price, reason, now)
		}
	}
}

// evaluateSignals asks the strategy for proposals when the count-based
// guards and the risk manager allow new entries.
func (e *Engine) evaluateSignals(ctx context.Context, now time.Time) {
	if e.strat == nil {
		return
	}
	if e.risk.EmergencyStopCheck() {
		e.handleEmergencyStop(ctx, now)
		return
	}
	if len(e.open) >= e.cfg.Trading.MaxOpenPositions {
		logs.Debugf("max open positions (%d) reached, not evaluating signals", e.cfg.Trading.MaxOpenPositions)
		return
	}
	if e.dayTradeCount >= e.cfg.Trading.MaxTradesPerDay {
		logs.Debugf("daily trade cap (%d) reached, not evaluating signals", e.cfg.Trading.MaxTradesPerDay)
		return
	}

	for _, symbol := range e.cfg.Symbols {
		if e.hasOpen(symbol) {
			continue
		}
		callCtx, cancel := e.callContext(ctx)
		q, err := e.gateway.GetQuote(callCtx, symbol, e.exchangeFor(symbol))
		cancel()
		if err != nil {
			logs.Warnf("quote for %s failed: %v", symbol, err)
			e.recordFailure(err)
			continue
		}
		e.recordSuccess()
		if e.history != nil {
			e.history.Observe(symbol, q.Price)
		}

		sig := e.strat.OnQuote(q)
		if sig == nil {
			continue
		}
		e.ExecuteSignal(ctx, *sig, now)

		// Re-check the count guards between executions within one cycle.
		if len(e.open) >= e.cfg.Trading.MaxOpenPositions || e.dayTradeCount >= e.cfg.Trading.MaxTradesPerDay {
			return
		}
	}
}

func (e *Engine) hasOpen(symbol string) bool {
	for _, p := range e.open {
		if strings.EqualFold(p.Asset, symbol) {
			return true
		}
	}
	return false
}

func (e *Engine) exchangeFor(symbol string) string {
	if e.cfg.IsIndex(symbol) && strings.EqualFold(symbol, "SENSEX") {
		return "BSE"
	}
	return "NSE"
}

// ExecuteSignal runs one proposal through validation, risk checks, sizing
// and order placement. Every evaluated signal produces a signal-log row
// whatever the outcome.
func (e *Engine) ExecuteSignal(ctx context.Context, sig signal.Signal, now time.Time) {
	// Fill in omitted exit levels by the percentage rule before validation.
	if sig.Stop <= 0 || sig.Target <= 0 {
		if sig.Direction.BuySide() {
			sig.Stop = sig.Entry * (1 - e.cfg.Trading.StopLossPct)
			sig.Target = sig.Entry * (1 + e.cfg.Trading.TargetPct)
		} else {
			sig.Stop = sig.Entry * (1 + e.cfg.Trading.StopLossPct)
			sig.Target = sig.Entry * (1 - e.cfg.Trading.TargetPct)
		}
	}
	if sig.Sector == "" {
		sig.Sector = e.cfg.Sector(sig.Asset)
	}

	if err := sig.Validate(); err != nil {
		logs.Warnf("signal rejected before risk checks: %v", err)
		e.logSignal(now, sig, journal.SignalInvalid, err.Error())
		return
	}
	if sig.Confidence < e.cfg.Trading.MinConfidence {
		reason := fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, e.cfg.Trading.MinConfidence)
		logs.Infof("signal %s %s skipped: %s", sig.Asset, sig.Direction, reason)
		e.logSignal(now, sig, journal.SignalRejected, reason)
		return
	}

	units, reason := e.sizePosition(sig)
	if units <= 0 {
		logs.Infof("signal %s %s not sized: %s", sig.Asset, sig.Direction, reason)
		e.logSignal(now, sig, journal.SignalRejected, reason)
		return
	}

	ok, riskReason := e.risk.ValidateTradeRisk(sig, units)
	if !ok {
		logs.Infof("signal %s %s rejected by risk: %s", sig.Asset, sig.Direction, riskReason)
		e.logSignal(now, sig, journal.SignalRejected, riskReason)
		e.journalEvent(ctx, "risk", "trade_rejected", map[string]any{
			"asset": sig.Asset, "reason": riskReason, "units": units,
		})
		return
	}

	e.placeEntry(ctx, sig, units, now)
}

// placeEntry submits the entry order and opens the position on success.
// The broker's margin snapshot gates the order first: the fallback chain
// (live, cached, default) means the check degrades rather than blocks when
// the margins API is down.
func (e *Engine) placeEntry(ctx context.Context, sig signal.Signal, units int, now time.Time) {
	required := sig.Entry * float64(units)
	callCtx, cancel := e.callContext(ctx)
	margins, err := e.gateway.GetMargins(callCtx)
	cancel()
	if err != nil {
		logs.Warnf("margins unavailable before entry, proceeding: %v", err)
	} else if margins.Available < required {
		reason := fmt.Sprintf("available margin %.2f (%s) below required %.2f",
			margins.Available, margins.Source, required)
		logs.Infof("signal %s %s rejected: %s", sig.Asset, sig.Direction, reason)
		e.logSignal(now, sig, journal.SignalRejected, reason)
		return
	}

	side := broker.SideBuy
	if !sig.Direction.BuySide() {
		side = broker.SideSell
	}
	req := broker.OrderRequest{
		Symbol:   sig.Asset,
		Exchange: e.exchangeFor(sig.Asset),
		Side:     side,
		Type:     broker.TypeLimit,
		Quantity: units,
		Price:    sig.Entry,
		Tag:      sig.Strategy,
	}

	var res broker.OrderResult
	err = broker.Retry(ctx, e.cfg.Brokers.RetryAttempts, e.cfg.Brokers.RetryDelay,
		"place entry order", func() error {
			callCtx, cancel := e.callContext(ctx)
			defer cancel()
			var placeErr error
			res, placeErr = e.gateway.PlaceOrder(callCtx, req)
			return placeErr
		})

	e.logTrade(journal.TradeRecord{
		Time: now, Strategy: sig.Strategy, Action: string(sig.Direction),
		Instrument: sig.Asset, Quantity: units, Price: sig.Entry,
		Status: res.Status, Mode: e.mode(), OrderID: res.OrderID, Message: res.Message,
	})

	if err != nil {
		logs.Errorf("entry order for %s failed: %v", sig.Asset, err)
		e.logSignal(now, sig, journal.SignalFailed, err.Error())
		e.recordFailure(err)
		return
	}
	e.recordSuccess()

	capitalUsed := sig.Entry * float64(units)
	p, err := position.Open(position.Params{
		Asset:       sig.Asset,
		Exchange:    req.Exchange,
		Direction:   sig.Direction,
		Quantity:    units,
		Entry:       sig.Entry,
		Stop:        sig.Stop,
		Target:      sig.Target,
		CapitalUsed: capitalUsed,
		Sector:      sig.Sector,
		Strategy:    sig.Strategy,
		Mode:        e.mode(),
		OrderID:     res.OrderID,
	}, now)
	if err != nil {
		logs.Errorf("position open failed after fill, cancelling %s: %v", res.OrderID, err)
		callCtx, cancel := e.callContext(ctx)
		if cancelErr := e.gateway.CancelOrder(callCtx, res.OrderID); cancelErr != nil {
			logs.Errorf("cancel of %s also failed: %v", res.OrderID, cancelErr)
		}
		cancel()
		return
	}

	e.capital -= capitalUsed
	e.dayTradeCount++
	e.open[p.ID] = p
	e.risk.RegisterOpen(p)

	e.logSignal(now, sig, journal.SignalExecuted, "Risk validation passed")
	e.saveOrder(ctx, db.OrderRecord{
		OrderID: res.OrderID, Symbol: sig.Asset, Exchange: req.Exchange,
		Side: side, Type: req.Type, Quantity: units, Price: sig.Entry,
		Status: res.Status, Mode: e.mode(), Strategy: sig.Strategy,
		PlacedAt: now, Open: true,
	})
	e.journalEvent(ctx, "order", "position_opened", map[string]any{
		"position_id": p.ID, "asset": p.Asset, "direction": string(p.Direction),
		"quantity": p.Quantity, "entry": p.Entry, "stop": p.Stop, "target": p.Target,
	})

	logs.Infof("opened %s %s x%d @ %.2f (stop %.2f, target %.2f), capital %.2f",
		p.Direction, p.Asset, p.Quantity, p.Entry, p.Stop, p.Target, e.capital)
	notifier.Notify(e.notify, "Position Opened",
		fmt.Sprintf("%s %s x%d @ %.2f\nstop %.2f / target %.2f\nstrategy %s mode %s",
			p.Direction, p.Asset, p.Quantity, p.Entry, p.Stop, p.Target, p.Strategy, p.Mode))
}

// closePosition exits a tracked position: closing order, realized PnL,
// capital update, bookkeeping, notification.
func (e *Engine) closePosition(ctx context.Context, p *position.Position, price float64, reason string, now time.Time) {
	side := broker.SideSell
	if !p.Direction.BuySide() {
		side = broker.SideBuy
	}
	req := broker.OrderRequest{
		Symbol:   p.Asset,
		Exchange: p.Exchange,
		Side:     side,
		Type:     broker.TypeMarket,
		Quantity: p.Quantity,
		Tag:      p.Strategy,
	}

	var res broker.OrderResult
	err := broker.Retry(ctx, e.cfg.Brokers.RetryAttempts, e.cfg.Brokers.RetryDelay,
		"place exit order", func() error {
			callCtx, cancel := e.callContext(ctx)
			defer cancel()
			var placeErr error
			res, placeErr = e.gateway.PlaceOrder(callCtx, req)
			return placeErr
		})
	if err != nil {
		// The position stays open and the next cycle retries the exit.
		logs.Errorf("exit order for %s failed, will retry next cycle: %v", p.Asset, err)
		e.recordFailure(err)
		return
	}
	e.recordSuccess()

	if err := p.Close(price, reason, now); err != nil {
		logs.Errorf("close bookkeeping for %s: %v", p.ID, err)
		return
	}

	e.capital += p.CapitalUsed + p.PnL
	delete(e.open, p.ID)
	e.risk.RecordTrade(p)

	e.logTrade(journal.TradeRecord{
		Time: now, Strategy: p.Strategy, Action: "EXIT_" + reason,
		Instrument: p.Asset, Quantity: p.Quantity, Price: price,
		Status: res.Status, Mode: p.Mode, OrderID: res.OrderID,
		Message: fmt.Sprintf("pnl %.2f", p.PnL),
	})
	e.saveTrade(ctx, p)
	e.journalEvent(ctx, "trade", "position_closed", map[string]any{
		"position_id": p.ID, "asset": p.Asset, "reason": reason,
		"exit": price, "pnl": p.PnL, "capital": e.capital,
	})

	logs.Infof("closed %s %s x%d @ %.2f (%s), pnl %.2f, day pnl %.2f, capital %.2f",
		p.Direction, p.Asset, p.Quantity, price, reason, p.PnL, e.risk.DayPnL(), e.capital)
	notifier.Notify(e.notify, "Position Closed",
		fmt.Sprintf("%s %s x%d @ %.2f (%s)\npnl %.2f\nday pnl %.2f\ncapital %.2f",
			p.Direction, p.Asset, p.Quantity, price, reason, p.PnL, e.risk.DayPnL(), e.capital))
	e.saveState()
}

// handleEmergencyStop reacts to a tripped circuit breaker. New entries stop
// for the day; open positions keep being monitored for exit unless the
// force-close flag is set. The journal event and notification fire once per
// trip, not once per poll tick.
func (e *Engine) handleEmergencyStop(ctx context.Context, now time.Time) {
	if !e.stopNotified {
		e.stopNotified = true
		snap := e.risk.DashboardData()
		e.journalEvent(ctx, "risk", "emergency_stop", map[string]any{
			"day_pnl": e.risk.DayPnL(), "open_positions": len(e.open),
		})
		notifier.Notify(e.notify, "EMERGENCY STOP",
			fmt.Sprintf("trading halted for the day\nday pnl %.2f\ncapital %.2f\nopen positions %d\nVaR95 %.2f\nmax drawdown %.2f%%",
				snap.DayPnL, snap.TotalCapital, snap.OpenCount,
				snap.Metrics.VaR95, snap.Metrics.MaxDrawdown*100))
	}
	if !e.cfg.Risk.CloseOnEmergency {
		return
	}
	for _, p := range e.open {
		callCtx, cancel := e.callContext(ctx)
		q, err := e.gateway.GetQuote(callCtx, p.Asset, p.Exchange)
		cancel()
		if err != nil {
			logs.Warnf("emergency close quote for %s failed: %v", p.Asset, err)
			continue
		}
		e.closePosition(ctx, p, q.Price, position.ExitEmergency, now)
	}
}

// CloseAll manually exits every open position, used by the shutdown path
// when configured.
func (e *Engine) CloseAll(ctx context.Context, now time.Time) {
	for _, p := range e.open {
		callCtx, cancel := e.callContext(ctx)
		q, err := e.gateway.GetQuote(callCtx, p.Asset, p.Exchange)
		cancel()
		if err != nil {
			logs.Warnf("close-all quote for %s failed: %v", p.Asset, err)
			continue
		}
		e.closePosition(ctx, p, q.Price, position.ExitManual, now)
	}
}

// recordFailure counts consecutive broker failures and swaps in the paper
// gateway once the threshold is crossed. Credential and rejection errors
// do not count: retrying a different gateway cannot fix them.
func (e *Engine) recordFailure(err error) {
	if !errs.Recoverable(err) {
		return
	}
	if errors.Is(err, errs.ErrSessionExpired) {
		// Reconnect re-reads .env, picking up a regenerated session token.
		callCtx, cancel := e.callContext(context.Background())
		if reconnErr := e.gateway.Connect(callCtx); reconnErr == nil {
			cancel()
			e.failures = 0
			logs.Infof("broker session refreshed after expiry")
			return
		}
		cancel()
	}
	e.failures++
	threshold := e.cfg.Brokers.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if e.failures >= threshold && !e.degraded && e.paper != nil && e.gateway != e.paper {
		e.degrade(fmt.Sprintf("%d consecutive broker failures, last: %v", e.failures, err))
	}
}

func (e *Engine) recordSuccess() { e.failures = 0 }

func (e *Engine) degrade(why string) {
	if e.paper == nil {
		logs.Errorf("cannot degrade to paper mode (no paper gateway): %s", why)
		return
	}
	logs.Errorf("degrading to paper trading: %s", why)
	e.gateway = e.paper
	e.degraded = true
	notifier.Notify(e.notify, "Degraded to Paper Mode", why)
}

func (e *Engine) mode() string {
	if e.degraded {
		return config.ModePaper
	}
	return e.cfg.Mode
}

func (e *Engine) strategyName() string {
	if e.strat == nil {
		return "none"
	}
	return e.strat.Name()
}

// publishSnapshot pushes the dashboard view to the telemetry hub.
func (e *Engine) publishSnapshot() {
	if e.hub == nil {
		return
	}
	snap := e.risk.DashboardData()
	e.hub.Publish(map[string]any{
		"capital":         e.capital,
		"day_trade_count": e.dayTradeCount,
		"open_positions":  len(e.open),
		"degraded":        e.degraded,
		"mode":            e.mode(),
		"risk":            snap,
	})
}

func (e *Engine) saveState() {
	if e.stateMgr == nil {
		return
	}
	open := make([]*position.Position, 0, len(e.open))
	for _, p := range e.open {
		open = append(open, p)
	}
	if err := e.stateMgr.Save(state.EngineState{
		Capital:       e.capital,
		Day:           e.day,
		DayTradeCount: e.dayTradeCount,
		DayPnL:        e.risk.DayPnL(),
		Open:          open,
	}); err != nil {
		logs.Warnf("engine state save failed: %v", err)
	}
}

// shutdown logs the session summary and persists final state.
func (e *Engine) shutdown() {
	e.saveState()
	metrics := e.risk.PortfolioRisk()
	summary := fmt.Sprintf(
		"session summary: capital %.2f, day pnl %.2f, trades %d, win rate %.0f%%, open positions %d",
		e.capital, e.risk.DayPnL(), e.risk.TradeCount(), metrics.WinRate*100, len(e.open))
	logs.Info(summary)
	notifier.Notify(e.notify, "Session Ended", summary)
	if e.tradeLog != nil {
		e.tradeLog.Close()
	}
	if e.sigLog != nil {
		e.sigLog.Close()
	}
}

// Persistence helpers: failures are logged, never allowed to stop trading.

func (e *Engine) logTrade(r journal.TradeRecord) {
	if e.tradeLog == nil {
		return
	}
	if err := e.tradeLog.Append(r); err != nil {
		logs.Warnf("trade log append failed: %v", err)
	}
}

func (e *Engine) logSignal(now time.Time, sig signal.Signal, status, reason string) {
	if e.sigLog == nil {
		return
	}
	if err := e.sigLog.Append(now, sig, status, reason); err != nil {
		logs.Warnf("signal log append failed: %v", err)
	}
}

func (e *Engine) saveOrder(ctx context.Context, o db.OrderRecord) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveOrder(ctx, o); err != nil {
		logs.Warnf("order persist failed: %v", err)
	}
}

func (e *Engine) saveTrade(ctx context.Context, p *position.Position) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveTrade(ctx, p); err != nil {
		logs.Warnf("trade persist failed: %v", err)
	}
	if err := e.storage.CloseOrder(ctx, p.OrderID); err != nil {
		logs.Debugf("order close mark failed: %v", err)
	}
}

func (e *Engine) journalEvent(ctx context.Context, typ, desc string, data map[string]any) {
	if e.storage == nil {
		return
	}
	if err := e.storage.LogEvent(ctx, journal.Event{
		Time: e.now(), Type: typ, Description: desc, Data: data,
	}); err != nil {
		logs.Warnf("journal event failed: %v", err)
	}
}
