package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensextrader/internal/config"
	"sensextrader/internal/position"
	"sensextrader/internal/signal"
)

func limits() config.RiskConfig {
	return config.RiskConfig{
		DailyLossPct:      0.05,
		PositionRiskPct:   0.02,
		MaxNotionalPct:    0.30,
		MaxSectorPct:      0.40,
		MaxCorrelationPct: 0.60,
		MaxVolatility:     0.05,
		DefaultVolatility: 0.02,
		MaxDrawdown:       0.20,
	}
}

func manager() *Manager {
	return New(limits(), 100000, nil, nil)
}

func buySignal() signal.Signal {
	return signal.Signal{
		Asset: "RELIANCE", Direction: signal.Buy, Sector: "Energy",
		Entry: 2500, Stop: 2450, Target: 2600,
		Confidence: 0.8, Strength: 0.7, At: time.Now(),
	}
}

func closedTrade(t *testing.T, m *Manager, asset string, pnl, capitalUsed float64) {
	t.Helper()
	p, err := position.Open(position.Params{
		Asset: asset, Direction: signal.Buy, Quantity: 1,
		Entry: capitalUsed, Stop: capitalUsed * 0.98, Target: capitalUsed * 1.04,
		CapitalUsed: capitalUsed,
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Close(capitalUsed+pnl, position.ExitManual, time.Now()))
	m.RecordTrade(p)
}

func TestValidatePasses(t *testing.T) {
	ok, reason := manager().ValidateTradeRisk(buySignal(), 4) // notional 10000, risk 200
	assert.True(t, ok)
	assert.Equal(t, ReasonPassed, reason)
}

func TestValidateIsPure(t *testing.T) {
	m := manager()
	sig := buySignal()
	ok1, r1 := m.ValidateTradeRisk(sig, 4)
	ok2, r2 := m.ValidateTradeRisk(sig, 4)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, r1, r2)
}

// Scenario: capital=100000, limit=5000; three losers totaling -5200 trip the
// breaker and the next validation fails on the daily loss check.
func TestDailyLossLimitFiresFirst(t *testing.T) {
	m := manager()
	closedTrade(t, m, "RELIANCE", -1800, 10000)
	closedTrade(t, m, "TCS", -1700, 10000)
	closedTrade(t, m, "INFY", -1700, 10000)

	assert.InDelta(t, -5200, m.DayPnL(), 1e-9)
	assert.True(t, m.EmergencyStopCheck())
	assert.True(t, m.EmergencyStopCheck(), "idempotent once tripped")

	ok, reason := m.ValidateTradeRisk(buySignal(), 4)
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLoss, reason)
}

// The limit applies to the absolute day PnL: a +6000 day against a 5000
// limit halts exactly like a -6000 one.
func TestDailyLimitTripsOnWinningDay(t *testing.T) {
	m := manager()
	closedTrade(t, m, "RELIANCE", 6000, 10000)

	assert.True(t, m.EmergencyStopCheck())
	ok, reason := m.ValidateTradeRisk(buySignal(), 4)
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLoss, reason)
}

// Scenario: 100 units of a 2500 stock is a 250000 notional against a 30000
// cap on 100000 capital.
func TestNotionalCap(t *testing.T) {
	ok, reason := manager().ValidateTradeRisk(buySignal(), 100)
	assert.False(t, ok)
	assert.Equal(t, ReasonPositionLarge, reason)
}

func TestRiskAmountCap(t *testing.T) {
	m := manager()
	// 11 units keeps notional at 27500 (under the cap) but risk at
	// 50*11=550... use a wider stop: risk/unit 250, 10 units = 2500 > 2000.
	sig := buySignal()
	sig.Stop = 2250
	ok, reason := m.ValidateTradeRisk(sig, 10)
	assert.False(t, ok)
	assert.Contains(t, reason, "Risk amount")
	assert.Contains(t, reason, "exceeds limit")
}

func TestSectorExposureCap(t *testing.T) {
	m := manager()
	// 38000 of open Energy exposure; a 10000 add breaches the 40000 cap.
	p, err := position.Open(position.Params{
		Asset: "ONGC", Direction: signal.Buy, Quantity: 19,
		Entry: 2000, Stop: 1990, Target: 2100, CapitalUsed: 38000, Sector: "Energy",
	}, time.Now())
	require.NoError(t, err)
	m.RegisterOpen(p)

	ok, reason := m.ValidateTradeRisk(buySignal(), 4)
	assert.False(t, ok)
	assert.Equal(t, ReasonSector, reason)
}

func TestCorrelationExposureCap(t *testing.T) {
	m := manager()
	// Same symbol prefix, different sector: counts as correlated exposure.
	p, err := position.Open(position.Params{
		Asset: "RELIANCE-FUT", Direction: signal.Buy, Quantity: 23,
		Entry: 2500, Stop: 2480, Target: 2600, CapitalUsed: 57500, Sector: "Derivatives",
	}, time.Now())
	require.NoError(t, err)
	m.RegisterOpen(p)

	sig := buySignal()
	sig.Sector = "" // isolate the prefix rule from the sector rule
	ok, reason := m.ValidateTradeRisk(sig, 4)
	assert.False(t, ok)
	assert.Equal(t, ReasonCorrelation, reason)
}

type fixedVol float64

func (v fixedVol) Volatility(string) (float64, bool) { return float64(v), true }

func TestVolatilityCap(t *testing.T) {
	m := New(limits(), 100000, nil, fixedVol(0.09))
	ok, reason := m.ValidateTradeRisk(buySignal(), 4)
	assert.False(t, ok)
	assert.Equal(t, ReasonVolatility, reason)

	override := map[string]float64{"RELIANCE": 0.01}
	m = New(limits(), 100000, override, fixedVol(0.09))
	ok, _ = m.ValidateTradeRisk(buySignal(), 4)
	assert.True(t, ok, "configured override wins over the realized estimate")
}

func TestResetDayReArms(t *testing.T) {
	m := manager()
	closedTrade(t, m, "RELIANCE", -6000, 10000)
	require.True(t, m.EmergencyStopCheck())

	m.ResetDay()
	assert.False(t, m.Halted())
	assert.Zero(t, m.DayPnL())
	assert.False(t, m.EmergencyStopCheck())
	ok, _ := m.ValidateTradeRisk(buySignal(), 4)
	assert.True(t, ok)
}
