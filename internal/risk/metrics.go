package risk

import (
	"math"
	"sort"
	"time"

	"sensextrader/internal/position"
)

// varWindow caps how many recent trade returns feed the VaR percentiles.
const varWindow = 100

// Metrics is the portfolio-level risk picture. Every field is 0 (never NaN)
// when the trade history is empty.
type Metrics struct {
	TotalExposure float64 `json:"total_exposure"`
	VaR95         float64 `json:"var_95"`
	VaR99         float64 `json:"var_99"`
	Sharpe        float64 `json:"sharpe_ratio"`
	WinRate       float64 `json:"win_rate"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	DailyPnL      float64 `json:"daily_pnl"`
}

// PositionRisk describes one position's contribution to portfolio risk.
type PositionRisk struct {
	CapitalUsed     float64 `json:"position_size"`
	RiskAmount      float64 `json:"risk_amount"`
	RiskPct         float64 `json:"risk_percentage"`
	StopDistance    float64 `json:"stop_loss_distance"`
	CorrelationRisk float64 `json:"correlation_risk"`
	SectorExposure  float64 `json:"sector_exposure"`
}

// PortfolioRisk computes the full metric set from the current state.
func (m *Manager) PortfolioRisk() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exposure float64
	for _, o := range m.open {
		exposure += o.notional
	}

	returns := returnsLocked(m.history)
	return Metrics{
		TotalExposure: exposure,
		VaR95:         math.Abs(percentile(returns, 5)) * m.totalCapital,
		VaR99:         math.Abs(percentile(returns, 1)) * m.totalCapital,
		Sharpe:        sharpe(returns),
		WinRate:       winRate(m.history),
		MaxDrawdown:   maxDrawdown(returns),
		DailyPnL:      m.dayPnL,
	}
}

// PositionRiskMetrics values one open position against the current book.
func (m *Manager) PositionRiskMetrics(p *position.Position) PositionRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	riskAmount := math.Abs(p.Entry-p.Stop) * float64(p.Quantity)
	var riskPct, stopDist float64
	if m.totalCapital > 0 {
		riskPct = riskAmount / m.totalCapital
	}
	if p.Entry > 0 {
		stopDist = math.Abs(p.Entry-p.Stop) / p.Entry
	}
	return PositionRisk{
		CapitalUsed:     p.CapitalUsed,
		RiskAmount:      riskAmount,
		RiskPct:         riskPct,
		StopDistance:    stopDist,
		CorrelationRisk: m.correlatedExposureLocked(p.Asset, p.Sector),
		SectorExposure:  m.sectorExposureLocked(p.Sector),
	}
}

// returnsLocked converts the most recent trades (up to varWindow) into
// per-trade returns on committed capital. Trades with no recorded capital
// contribute a zero return rather than dividing by zero.
func returnsLocked(history []Trade) []float64 {
	start := 0
	if len(history) > varWindow {
		start = len(history) - varWindow
	}
	returns := make([]float64, 0, len(history)-start)
	for _, t := range history[start:] {
		if t.CapitalUsed == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, t.PnL/t.CapitalUsed)
	}
	return returns
}

// percentile is the empirical p-th percentile with linear interpolation
// between adjacent ranks. Empty input yields 0.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// sharpe is mean/std of returns, 0 when fewer than 2 trades or std is 0.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std
}

func winRate(history []Trade) float64 {
	if len(history) == 0 {
		return 0
	}
	wins := 0
	for _, t := range history {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(history))
}

// maxDrawdown is the largest peak-to-trough fall of the cumulative-return
// series, in return units.
func maxDrawdown(returns []float64) float64 {
	var cum, peak, maxDD float64
	for _, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Alert severities.
const (
	AlertWarning  = "WARNING"
	AlertCritical = "CRITICAL"
)

// Alert is a threshold warning surfaced on the dashboard and pushed to the
// notification sinks.
type Alert struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Snapshot is the read-only view handed to dashboards and telemetry.
type Snapshot struct {
	Time         time.Time `json:"timestamp"`
	TotalCapital float64   `json:"total_capital"`
	DayPnL       float64   `json:"day_pnl"`
	Halted       bool      `json:"halted"`
	OpenCount    int       `json:"open_positions"`
	TradeCount   int       `json:"trades_today"`
	Metrics      Metrics   `json:"metrics"`
	Alerts       []Alert   `json:"alerts"`
}

// DashboardData assembles the full snapshot.
func (m *Manager) DashboardData() Snapshot {
	metrics := m.PortfolioRisk()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Time:         time.Now(),
		TotalCapital: m.totalCapital,
		DayPnL:       m.dayPnL,
		Halted:       m.halted,
		OpenCount:    len(m.open),
		TradeCount:   len(m.history),
		Metrics:      metrics,
		Alerts:       alerts(metrics, m.DailyLossLimit(), m.totalCapital),
	}
}

// Alerts returns the currently firing threshold warnings.
func (m *Manager) Alerts() []Alert {
	metrics := m.PortfolioRisk()
	return alerts(metrics, m.DailyLossLimit(), m.totalCapital)
}

func alerts(metrics Metrics, lossLimit, capital float64) []Alert {
	var out []Alert
	if lossLimit > 0 && metrics.DailyPnL <= -0.8*lossLimit {
		out = append(out, Alert{AlertCritical, "Daily loss approaching limit"})
	}
	if capital > 0 && metrics.TotalExposure > 0.8*capital {
		out = append(out, Alert{AlertWarning, "Total exposure above 80% of capital"})
	}
	if capital > 0 && metrics.VaR95 > 0.05*capital {
		out = append(out, Alert{AlertWarning, "VaR(95) above 5% of capital"})
	}
	if metrics.MaxDrawdown > 0.15 {
		out = append(out, Alert{AlertWarning, "Drawdown above 15%"})
	}
	return out
}
