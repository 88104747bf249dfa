// Package strategy holds the rule-based signal sources. A strategy sees one
// quote per poll cycle and may propose at most one Signal for it; everything
// downstream (risk checks, sizing, execution) is the engine's job.
package strategy

import (
	"fmt"

	"sensextrader/internal/market"
	"sensextrader/internal/signal"
)

// Strategy turns quotes into trade proposals. OnQuote returns nil when the
// strategy has nothing to say about this quote.
type Strategy interface {
	Name() string
	OnQuote(q market.Quote) *signal.Signal
}

// Config carries the knobs shared by the built-in strategies.
type Config struct {
	StopLossPct float64 // fraction below (buy) or above (sell) entry
	TargetPct   float64
	MinMovePct  float64 // price-change trigger threshold
	RulesPath   string  // YAML rules file for the rule strategy
}

// New builds a registered strategy by name.
func New(name string, cfg Config) (Strategy, error) {
	switch name {
	case "price-change":
		return NewPriceChange(cfg), nil
	case "rules":
		return LoadRules(cfg.RulesPath, cfg)
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// exitLevels derives stop and target from entry by the percentage rule,
// direction-aware.
func exitLevels(entry float64, buySide bool, stopPct, targetPct float64) (stop, target float64) {
	if buySide {
		return entry * (1 - stopPct), entry * (1 + targetPct)
	}
	return entry * (1 + stopPct), entry * (1 - targetPct)
}
