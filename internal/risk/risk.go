// Package risk is the gatekeeper for every proposed trade and the aggregator
// of realized performance. One Manager owns the day's risk state: capital,
// day P&L, the closed-trade history and the open-exposure book.
package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"sensextrader/internal/config"
	"sensextrader/internal/logs"
	"sensextrader/internal/position"
	"sensextrader/internal/signal"
)

// Validation reasons. The check order in ValidateTradeRisk is contractual:
// tests assert on which reason fires for a given violation, and operators
// debug rejections by these strings.
const (
	ReasonPassed        = "Risk validation passed"
	ReasonDailyLoss     = "Daily loss limit reached"
	ReasonPositionLarge = "Position too large - exceeds 30% capital limit"
	ReasonSector        = "Sector exposure limit exceeded"
	ReasonCorrelation   = "Correlation risk limit exceeded"
	ReasonVolatility    = "Asset volatility too high"
)

// VolatilitySource estimates realized volatility for a symbol. ok is false
// when not enough observations exist yet.
type VolatilitySource interface {
	Volatility(symbol string) (float64, bool)
}

// Trade is one closed trade in the session history.
type Trade struct {
	Asset       string    `json:"asset"`
	Sector      string    `json:"sector"`
	PnL         float64   `json:"pnl"`
	CapitalUsed float64   `json:"capital_used"`
	ClosedAt    time.Time `json:"closed_at"`
}

// openExposure is the slice of an open position the risk checks need.
type openExposure struct {
	asset    string
	sector   string
	notional float64
}

// Manager holds the mutable risk state. All methods are safe for concurrent
// use; the engine is the only writer.
type Manager struct {
	mu sync.RWMutex

	cfg          config.RiskConfig
	totalCapital float64
	volOverride  map[string]float64
	vols         VolatilitySource

	dayPnL  float64
	halted  bool
	history []Trade
	open    map[string]openExposure
}

// New builds a Manager. volOverride maps symbols to configured volatility
// estimates consulted before the realized source; vols may be nil.
func New(cfg config.RiskConfig, totalCapital float64, volOverride map[string]float64, vols VolatilitySource) *Manager {
	override := make(map[string]float64, len(volOverride))
	for sym, v := range volOverride {
		override[strings.ToUpper(sym)] = v
	}
	return &Manager{
		cfg:          cfg,
		totalCapital: totalCapital,
		volOverride:  override,
		vols:         vols,
		open:         make(map[string]openExposure),
	}
}

// DailyLossLimit is the absolute day-loss amount that halts trading.
func (m *Manager) DailyLossLimit() float64 { return m.totalCapital * m.cfg.DailyLossPct }

// PositionRiskLimit is the per-trade risk amount cap.
func (m *Manager) PositionRiskLimit() float64 { return m.totalCapital * m.cfg.PositionRiskPct }

// DayPnL returns the realized P&L of the current trading day.
func (m *Manager) DayPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dayPnL
}

// Halted reports whether the emergency stop has tripped today.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// ValidateTradeRisk runs the ordered checks against a proposed trade of
// `units` at the signal's entry price. It short-circuits on the first
// failure and is a pure function of the signal, the size and the current
// state: no clock reads, no randomness.
func (m *Manager) ValidateTradeRisk(sig signal.Signal, units int) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// (a) daily loss limit. Absolute value: a runaway winning day signals
	// the same loss of control as a losing one and halts too.
	if m.halted || math.Abs(m.dayPnL) >= m.DailyLossLimit() {
		return false, ReasonDailyLoss
	}

	// (b) notional cap
	notional := sig.Entry * float64(units)
	if notional > m.totalCapital*m.cfg.MaxNotionalPct {
		return false, ReasonPositionLarge
	}

	// (c) per-trade risk amount
	riskAmount := sig.RiskPerUnit() * float64(units)
	if limit := m.PositionRiskLimit(); riskAmount > limit {
		return false, fmt.Sprintf("Risk amount %.2f exceeds limit %.2f", riskAmount, limit)
	}

	// (d) sector exposure
	if m.sectorExposureLocked(sig.Sector)+notional > m.totalCapital*m.cfg.MaxSectorPct {
		return false, ReasonSector
	}

	// (e) correlated exposure
	if m.correlatedExposureLocked(sig.Asset, sig.Sector)+notional > m.totalCapital*m.cfg.MaxCorrelationPct {
		return false, ReasonCorrelation
	}

	// (f) instrument volatility
	if m.volatilityLocked(sig.Asset) > m.cfg.MaxVolatility {
		return false, ReasonVolatility
	}

	return true, ReasonPassed
}

func (m *Manager) sectorExposureLocked(sector string) float64 {
	if sector == "" {
		return 0
	}
	var total float64
	for _, o := range m.open {
		if o.sector == sector {
			total += o.notional
		}
	}
	return total
}

// correlatedExposureLocked sums open notional in instruments treated as
// correlated with the candidate: same sector, or a shared symbol prefix
// (option legs and futures on the same underlying share one).
func (m *Manager) correlatedExposureLocked(asset, sector string) float64 {
	prefix := symbolPrefix(asset)
	var total float64
	for _, o := range m.open {
		if (sector != "" && o.sector == sector) || symbolPrefix(o.asset) == prefix {
			total += o.notional
		}
	}
	return total
}

func symbolPrefix(symbol string) string {
	up := strings.ToUpper(symbol)
	if len(up) > 4 {
		return up[:4]
	}
	return up
}

func (m *Manager) volatilityLocked(symbol string) float64 {
	if v, ok := m.volOverride[strings.ToUpper(symbol)]; ok {
		return v
	}
	if m.vols != nil {
		if v, ok := m.vols.Volatility(symbol); ok {
			return v
		}
	}
	return m.cfg.DefaultVolatility
}

// RegisterOpen adds a freshly opened position to the exposure book.
func (m *Manager) RegisterOpen(p *position.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[p.ID] = openExposure{
		asset:    p.Asset,
		sector:   p.Sector,
		notional: p.Notional(),
	}
}

// RecordTrade moves a closed position out of the exposure book, appends it
// to the trade history and adds its PnL to the day's total.
func (m *Manager) RecordTrade(p *position.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, p.ID)
	m.history = append(m.history, Trade{
		Asset:       p.Asset,
		Sector:      p.Sector,
		PnL:         p.PnL,
		CapitalUsed: p.CapitalUsed,
		ClosedAt:    p.ExitTime,
	})
	m.dayPnL += p.PnL
}

// EmergencyStopCheck trips the day halt when the daily loss limit is
// breached or drawdown exceeds the configured maximum. Idempotent: once
// halted the check stays true for the rest of the day.
func (m *Manager) EmergencyStopCheck() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return true
	}
	lossBreached := math.Abs(m.dayPnL) >= m.DailyLossLimit()
	ddBreached := maxDrawdown(returnsLocked(m.history)) > m.cfg.MaxDrawdown
	if lossBreached || ddBreached {
		m.halted = true
		logs.Errorf("EMERGENCY STOP: day pnl %.2f (limit %.2f), drawdown breached=%v - new entries halted for the day",
			m.dayPnL, m.DailyLossLimit(), ddBreached)
		return true
	}
	return false
}

// RestoreDay seeds the day PnL from persisted state after a same-day
// restart and re-derives the halt flag, so a tripped breaker survives a
// process restart.
func (m *Manager) RestoreDay(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayPnL = pnl
	if math.Abs(m.dayPnL) >= m.DailyLossLimit() {
		m.halted = true
		logs.Errorf("daily loss breaker restored tripped: day pnl %.2f (limit %.2f)",
			m.dayPnL, m.DailyLossLimit())
	}
}

// ResetDay re-arms the manager at the trading-day rollover.
func (m *Manager) ResetDay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayPnL = 0
	m.halted = false
	m.history = m.history[:0]
	logs.Infof("risk state reset for new trading day")
}

// TradeCount returns the number of closed trades in today's history.
func (m *Manager) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}
