package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensextrader/internal/broker"
	"sensextrader/internal/config"
	"sensextrader/internal/errs"
	"sensextrader/internal/market"
	"sensextrader/internal/position"
	"sensextrader/internal/risk"
	"sensextrader/internal/signal"
	"sensextrader/internal/state"
)

// scriptedStrategy emits each queued signal exactly once, in order, the
// first time any quote arrives.
type scriptedStrategy struct {
	queue []signal.Signal
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) OnQuote(q market.Quote) *signal.Signal {
	for i, sig := range s.queue {
		if sig.Asset == q.Symbol {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return &sig
		}
	}
	return nil
}

// downGateway always fails with a transport error.
type downGateway struct{}

func (downGateway) Name() string { return "down" }
func (downGateway) Connect(context.Context) error {
	return errs.Unavailable("connect", fmt.Errorf("refused"))
}
func (downGateway) CancelOrder(context.Context, string) error { return nil }
func (downGateway) GetQuote(context.Context, string, string) (market.Quote, error) {
	return market.Quote{}, errs.Unavailable("quote", fmt.Errorf("refused"))
}
func (downGateway) PlaceOrder(context.Context, broker.OrderRequest) (broker.OrderResult, error) {
	return broker.OrderResult{}, errs.Unavailable("order", fmt.Errorf("refused"))
}
func (downGateway) GetPositions(context.Context) (broker.PositionsSnapshot, error) {
	return broker.PositionsSnapshot{}, errs.Unavailable("positions", fmt.Errorf("refused"))
}
func (downGateway) GetMargins(context.Context) (broker.MarginsSnapshot, error) {
	return broker.MarginsSnapshot{}, errs.Unavailable("margins", fmt.Errorf("refused"))
}

func testConfig(symbols ...string) config.Config {
	cfg := config.Default()
	cfg.Symbols = symbols
	cfg.MarketHours.Ignore = true
	cfg.Brokers.RetryAttempts = 1
	cfg.Brokers.RetryDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, gw broker.Gateway, strat *scriptedStrategy) *Engine {
	t.Helper()
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, cfg.MarketHours.Ignore)
	require.NoError(t, err)

	e, err := New(Options{
		Config:   cfg,
		Gateway:  gw,
		Risk:     risk.New(cfg.Risk, cfg.Trading.InitialCapital, cfg.Instruments.Volatility, nil),
		Strategy: strat,
		Calendar: cal,
		State:    state.NewManager(filepath.Join(t.TempDir(), "engine_state.json")),
	})
	require.NoError(t, err)
	return e
}

func TestEngineOpensAndStopsOut(t *testing.T) {
	cfg := testConfig("RELIANCE")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 150.25, Stop: 148.75, Target: 156.26,
		Confidence: 0.85, Strength: 0.8,
	}}}
	e := newTestEngine(t, cfg, paper, strat)
	ctx := context.Background()

	paper.SetPrice("RELIANCE", 150.25)
	e.Cycle(ctx)
	require.Equal(t, 1, e.OpenCount(), "first tick should open the position")
	openCapital := e.Capital()
	assert.Less(t, openCapital, cfg.Trading.InitialCapital)

	paper.SetPrice("RELIANCE", 149.00)
	e.Cycle(ctx)
	assert.Equal(t, 1, e.OpenCount(), "149.00 is above the stop, position stays open")

	paper.SetPrice("RELIANCE", 148.70)
	e.Cycle(ctx)
	assert.Equal(t, 0, e.OpenCount(), "148.70 crossed the stop")

	// capital += capitalUsed + pnl, so the end balance is initial + pnl.
	assert.InDelta(t, -1.55, e.risk.DayPnL()/unitsOf(cfg, 150.25, 148.75, 0.8, 0.85), 0.001,
		"per-unit loss is entry minus exit")
	assert.InDelta(t, cfg.Trading.InitialCapital+e.risk.DayPnL(), e.Capital(), 0.01)
}

// unitsOf mirrors the sizing rule for assertion math.
func unitsOf(cfg config.Config, entry, stop, strength, confidence float64) float64 {
	perUnit := entry - stop
	raw := cfg.Trading.InitialCapital * cfg.Trading.RiskPerTrade / perUnit
	scaled := raw * strength * confidence
	maxUnits := float64(int(cfg.Trading.InitialCapital * cfg.Trading.MaxPositionPct / entry))
	if scaled > maxUnits {
		return maxUnits
	}
	return float64(int(scaled))
}

func TestEngineExitsAtExactBoundary(t *testing.T) {
	cfg := testConfig("TCS")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "TCS", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110,
		Confidence: 0.9, Strength: 1,
	}}}
	e := newTestEngine(t, cfg, paper, strat)
	ctx := context.Background()

	paper.SetPrice("TCS", 100)
	e.Cycle(ctx)
	require.Equal(t, 1, e.OpenCount())

	// Exactly equal to target exits, not strictly-greater.
	paper.SetPrice("TCS", 110)
	e.Cycle(ctx)
	assert.Equal(t, 0, e.OpenCount())
	assert.Positive(t, e.risk.DayPnL())
}

func TestEngineDayTradeCap(t *testing.T) {
	cfg := testConfig("RELIANCE", "TCS", "INFY")
	cfg.Trading.MaxTradesPerDay = 1
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	mkSig := func(asset string) signal.Signal {
		return signal.Signal{
			Asset: asset, Direction: signal.Buy, Strategy: "scripted",
			Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
		}
	}
	strat := &scriptedStrategy{queue: []signal.Signal{mkSig("RELIANCE"), mkSig("TCS"), mkSig("INFY")}}
	e := newTestEngine(t, cfg, paper, strat)
	ctx := context.Background()

	for _, s := range cfg.Symbols {
		paper.SetPrice(s, 100)
	}
	e.Cycle(ctx)
	assert.Equal(t, 1, e.OpenCount(), "daily trade cap of 1 admits exactly one entry")
	assert.Equal(t, 1, e.dayTradeCount)

	e.Cycle(ctx)
	assert.Equal(t, 1, e.OpenCount(), "cap still in force on the next cycle")
}

func TestEngineMaxOpenPositions(t *testing.T) {
	cfg := testConfig("RELIANCE", "TCS", "INFY")
	cfg.Trading.MaxOpenPositions = 2
	cfg.Trading.MaxTradesPerDay = 10
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	mkSig := func(asset, sector string) signal.Signal {
		return signal.Signal{
			Asset: asset, Direction: signal.Buy, Strategy: "scripted", Sector: sector,
			Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
		}
	}
	strat := &scriptedStrategy{queue: []signal.Signal{
		mkSig("RELIANCE", "energy"), mkSig("TCS", "it"), mkSig("INFY", "pharma"),
	}}
	e := newTestEngine(t, cfg, paper, strat)
	ctx := context.Background()

	for _, s := range cfg.Symbols {
		paper.SetPrice(s, 100)
	}
	e.Cycle(ctx)
	e.Cycle(ctx)
	assert.Equal(t, 2, e.OpenCount(), "third entry blocked by the open-position cap")
}

func TestEngineDegradesToPaperAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig("RELIANCE")
	cfg.Mode = config.ModeLive
	cfg.Broker = config.BrokerBreeze
	cfg.Brokers.FailureThreshold = 3
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	paper.SetPrice("RELIANCE", 100)

	strat := &scriptedStrategy{}
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, true)
	require.NoError(t, err)
	e, err := New(Options{
		Config:   cfg,
		Gateway:  downGateway{},
		Paper:    paper,
		Risk:     risk.New(cfg.Risk, cfg.Trading.InitialCapital, nil, nil),
		Strategy: strat,
		Calendar: cal,
		State:    state.NewManager(filepath.Join(t.TempDir(), "engine_state.json")),
	})
	require.NoError(t, err)
	ctx := context.Background()

	e.Cycle(ctx)
	e.Cycle(ctx)
	assert.False(t, e.Degraded(), "two failures stay below the threshold")
	e.Cycle(ctx)
	assert.True(t, e.Degraded(), "third consecutive failure swaps in the paper gateway")
	assert.Equal(t, config.ModePaper, e.mode())

	// The loop keeps running on the paper gateway afterwards.
	e.Cycle(ctx)
	assert.True(t, e.Degraded())
}

func TestEngineRejectsLowConfidence(t *testing.T) {
	cfg := testConfig("RELIANCE")
	cfg.Trading.MinConfidence = 0.7
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110, Confidence: 0.5, Strength: 1,
	}}}
	e := newTestEngine(t, cfg, paper, strat)

	paper.SetPrice("RELIANCE", 100)
	e.Cycle(context.Background())
	assert.Equal(t, 0, e.OpenCount())
	assert.Equal(t, 0, e.dayTradeCount)
}

func TestEngineFillsOmittedExitLevels(t *testing.T) {
	cfg := testConfig("RELIANCE")
	cfg.Trading.StopLossPct = 0.03
	cfg.Trading.TargetPct = 0.08
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Confidence: 0.9, Strength: 1,
	}}}
	e := newTestEngine(t, cfg, paper, strat)

	paper.SetPrice("RELIANCE", 100)
	e.Cycle(context.Background())
	require.Equal(t, 1, e.OpenCount())
	for _, p := range e.open {
		assert.InDelta(t, 97.0, p.Stop, 0.001)
		assert.InDelta(t, 108.0, p.Target, 0.001)
	}
}

func TestEngineStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig("RELIANCE")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
	}}}

	statePath := filepath.Join(t.TempDir(), "engine_state.json")
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, true)
	require.NoError(t, err)
	mkEngine := func() *Engine {
		e, err := New(Options{
			Config:   cfg,
			Gateway:  paper,
			Risk:     risk.New(cfg.Risk, cfg.Trading.InitialCapital, nil, nil),
			Strategy: strat,
			Calendar: cal,
			State:    state.NewManager(statePath),
		})
		require.NoError(t, err)
		return e
	}

	e := mkEngine()
	paper.SetPrice("RELIANCE", 100)
	e.Cycle(context.Background())
	require.Equal(t, 1, e.OpenCount())
	capital := e.Capital()

	restarted := mkEngine()
	assert.Equal(t, 1, restarted.OpenCount(), "restart resumes the open position")
	assert.InDelta(t, capital, restarted.Capital(), 0.001)

	// The resumed position still exits on its stop.
	paper.SetPrice("RELIANCE", 95)
	restarted.Cycle(context.Background())
	assert.Equal(t, 0, restarted.OpenCount())
}

func TestEngineHaltsEntriesOnEmergencyStop(t *testing.T) {
	cfg := testConfig("RELIANCE")
	rm := risk.New(cfg.Risk, cfg.Trading.InitialCapital, nil, nil)
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
	}}}
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, true)
	require.NoError(t, err)
	e, err := New(Options{
		Config: cfg, Gateway: paper, Risk: rm, Strategy: strat, Calendar: cal,
		State: state.NewManager(filepath.Join(t.TempDir(), "engine_state.json")),
	})
	require.NoError(t, err)

	// Trip the breaker: daily loss past 5% of capital.
	losing, err := position.Open(position.Params{
		Asset: "TCS", Direction: signal.Buy, Quantity: 1, Entry: 6000,
		Stop: 500, Target: 7000, CapitalUsed: 6000,
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, losing.Close(800, position.ExitStopLoss, time.Now()))
	rm.RecordTrade(losing)
	require.True(t, rm.EmergencyStopCheck())

	paper.SetPrice("RELIANCE", 100)
	e.Cycle(context.Background())
	assert.Equal(t, 0, e.OpenCount(), "no new entries while halted")
}

func TestSizePosition(t *testing.T) {
	cfg := testConfig("NIFTY")
	cfg.Instruments.LotSizes = map[string]int{"NIFTY": 75}
	e := newTestEngine(t, cfg, broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital}), &scriptedStrategy{})

	t.Run("lot floor", func(t *testing.T) {
		units, reason := e.sizePosition(signal.Signal{
			Asset: "NIFTY", Direction: signal.Buy,
			Entry: 100, Stop: 98, Target: 110, Confidence: 1, Strength: 1,
		})
		assert.Empty(t, reason)
		assert.Equal(t, 75, units, "size rounds down to a whole lot")
	})

	t.Run("zero per-unit risk rejected", func(t *testing.T) {
		units, reason := e.sizePosition(signal.Signal{
			Asset: "NIFTY", Direction: signal.Buy,
			Entry: 100, Stop: 100, Target: 110, Confidence: 1, Strength: 1,
		})
		assert.Zero(t, units)
		assert.Contains(t, reason, "no per-unit risk")
	})

	t.Run("capital floor fallback", func(t *testing.T) {
		small := testConfig("RELIANCE")
		small.Trading.InitialCapital = 1000
		small.Trading.AllowCapitalFloor = true
		se := newTestEngine(t, small, broker.NewPaper(broker.PaperOptions{Cash: 1000}), &scriptedStrategy{})
		// MaxPositionPct would allow 0 units at this price; the floor rule
		// still refuses anything beyond 90% of capital.
		units, reason := se.sizePosition(signal.Signal{
			Asset: "RELIANCE", Direction: signal.Buy,
			Entry: 2500, Stop: 2450, Target: 2600, Confidence: 1, Strength: 1,
		})
		assert.Zero(t, units)
		assert.NotEmpty(t, reason)
	})
}

// recordingNotifier captures notification subjects for assertions.
type recordingNotifier struct {
	subjects []string
}

func (r *recordingNotifier) Send(subject, body string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

// losingTrade returns a closed position with the given (negative) pnl.
func losingTrade(t *testing.T, loss float64) *position.Position {
	t.Helper()
	p, err := position.Open(position.Params{
		Asset: "TCS", Direction: signal.Buy, Quantity: 1,
		Entry: loss + 100, Stop: 50, Target: loss + 200, CapitalUsed: loss + 100,
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Close(100, position.ExitStopLoss, time.Now()))
	return p
}

func TestEngineBreakerSurvivesRestart(t *testing.T) {
	cfg := testConfig("RELIANCE")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	statePath := filepath.Join(t.TempDir(), "engine_state.json")
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, true)
	require.NoError(t, err)
	mkEngine := func(strat *scriptedStrategy) *Engine {
		e, err := New(Options{
			Config:   cfg,
			Gateway:  paper,
			Risk:     risk.New(cfg.Risk, cfg.Trading.InitialCapital, nil, nil),
			Strategy: strat,
			Calendar: cal,
			State:    state.NewManager(statePath),
		})
		require.NoError(t, err)
		return e
	}

	e := mkEngine(&scriptedStrategy{})
	e.risk.RecordTrade(losingTrade(t, 6000))
	require.True(t, e.risk.EmergencyStopCheck())
	e.saveState()

	restarted := mkEngine(&scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
	}}})
	assert.InDelta(t, -6000, restarted.risk.DayPnL(), 0.001, "restart keeps the day pnl")
	assert.True(t, restarted.risk.Halted(), "restart keeps the breaker tripped")

	paper.SetPrice("RELIANCE", 100)
	restarted.Cycle(context.Background())
	assert.Equal(t, 0, restarted.OpenCount(), "halted day admits no entries after restart")
}

func TestEngineNotifiesEmergencyStopOnce(t *testing.T) {
	cfg := testConfig("RELIANCE")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	paper.SetPrice("RELIANCE", 100)
	rn := &recordingNotifier{}
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open, cfg.MarketHours.Close, true)
	require.NoError(t, err)
	e, err := New(Options{
		Config:   cfg,
		Gateway:  paper,
		Risk:     risk.New(cfg.Risk, cfg.Trading.InitialCapital, nil, nil),
		Strategy: &scriptedStrategy{},
		Calendar: cal,
		Notifier: rn,
		State:    state.NewManager(filepath.Join(t.TempDir(), "engine_state.json")),
	})
	require.NoError(t, err)
	ctx := context.Background()

	e.risk.RecordTrade(losingTrade(t, 6000))
	e.Cycle(ctx)
	e.Cycle(ctx)
	e.Cycle(ctx)

	var stops int
	for _, s := range rn.subjects {
		if s == "EMERGENCY STOP" {
			stops++
		}
	}
	assert.Equal(t, 1, stops, "breaker trip notifies exactly once, not per tick")

	// A new day re-arms the edge detector.
	e.rolloverIfNewDay(time.Now().AddDate(0, 0, 1))
	assert.False(t, e.stopNotified)
}

func TestEngineRejectsEntryBeyondAvailableMargin(t *testing.T) {
	cfg := testConfig("RELIANCE")
	// Simulated broker cash well below what the sized order needs.
	paper := broker.NewPaper(broker.PaperOptions{Cash: 5000})
	strat := &scriptedStrategy{queue: []signal.Signal{{
		Asset: "RELIANCE", Direction: signal.Buy, Strategy: "scripted",
		Entry: 100, Stop: 95, Target: 110, Confidence: 0.9, Strength: 1,
	}}}
	e := newTestEngine(t, cfg, paper, strat)

	paper.SetPrice("RELIANCE", 100)
	e.Cycle(context.Background())
	assert.Equal(t, 0, e.OpenCount(), "margin snapshot gates the entry before the order")
	assert.Equal(t, 0, e.dayTradeCount)
	assert.InDelta(t, cfg.Trading.InitialCapital, e.Capital(), 0.001)
}

func TestEngineDayRollover(t *testing.T) {
	cfg := testConfig("RELIANCE")
	paper := broker.NewPaper(broker.PaperOptions{Cash: cfg.Trading.InitialCapital})
	e := newTestEngine(t, cfg, paper, &scriptedStrategy{})

	e.dayTradeCount = 4
	next := time.Now().AddDate(0, 0, 1)
	e.rolloverIfNewDay(next)
	assert.Equal(t, 0, e.dayTradeCount, "rollover resets the day trade count")
}
