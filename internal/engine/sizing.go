package engine

import (
	"fmt"
	"math"

	"sensextrader/internal/signal"
)

// sizePosition computes the order quantity for a proposal. Returns the
// units to trade, or 0 with a human-readable reason.
//
// riskPerTrade = capital x riskFraction; rawUnits = riskPerTrade / perUnitRisk,
// scaled by strength and confidence, clamped to [minUnits, maxUnits] and
// floored to the instrument lot multiple.
func (e *Engine) sizePosition(sig signal.Signal) (int, string) {
	perUnitRisk := math.Abs(sig.Entry - sig.Stop)
	if perUnitRisk <= 0 {
		return 0, "stop equals entry, no per-unit risk to size against"
	}

	riskPerTrade := e.capital * e.cfg.Trading.RiskPerTrade
	raw := riskPerTrade / perUnitRisk
	scaled := raw * sig.Strength * sig.Confidence

	maxUnits := int(math.Floor(e.capital * e.cfg.Trading.MaxPositionPct / sig.Entry))
	units := int(math.Floor(scaled))
	if units > maxUnits {
		units = maxUnits
	}
	if min := e.cfg.Trading.MinUnits; units < min {
		units = min
	}

	lot := e.cfg.LotSize(sig.Asset)
	if lot > 1 {
		units = (units / lot) * lot
	}
	if units <= 0 {
		return 0, fmt.Sprintf("computed size %d not tradable (lot %d)", units, lot)
	}

	notional := float64(units) * sig.Entry
	if notional <= e.capital {
		return units, ""
	}

	if !e.cfg.Trading.AllowCapitalFloor {
		return 0, fmt.Sprintf("notional %.2f exceeds available capital %.2f", notional, e.capital)
	}

	// Small-account fallback: size down to at most 90% of remaining capital.
	units = int(math.Floor(0.9 * e.capital / sig.Entry))
	if lot > 1 {
		units = (units / lot) * lot
	}
	if units <= 0 {
		return 0, fmt.Sprintf("capital %.2f too small for %s @ %.2f", e.capital, sig.Asset, sig.Entry)
	}
	return units, ""
}
