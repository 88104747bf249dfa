// Package signal defines the contract between strategies and the execution
// engine. A Signal is immutable once produced; anything that fails Validate
// never reaches risk checks or the broker.
package signal

import (
	"fmt"
	"math"
	"time"
)

// Direction of a proposed trade. CALL/PUT behave as the option-leg
// equivalents of BUY/SELL for side-dependent checks.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Call Direction = "CALL"
	Put  Direction = "PUT"
)

// BuySide reports whether the direction profits from rising prices.
func (d Direction) BuySide() bool { return d == Buy || d == Call }

// Valid reports whether d is one of the four known directions.
func (d Direction) Valid() bool {
	switch d {
	case Buy, Sell, Call, Put:
		return true
	}
	return false
}

// AssetType classifies the underlying instrument.
type AssetType string

const (
	Stock   AssetType = "stock"
	Index   AssetType = "index"
	Futures AssetType = "futures"
	Options AssetType = "options"
)

// Signal is a strategy's proposal. Entry, Target and Stop are prices;
// Confidence and Strength are normalized to [0, 1].
type Signal struct {
	Asset      string    `json:"asset"`
	AssetType  AssetType `json:"asset_type"`
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry_price"`
	Target     float64   `json:"target_price"`
	Stop       float64   `json:"stop_loss"`
	Confidence float64   `json:"confidence"`
	Strength   float64   `json:"strength"`
	Sector     string    `json:"sector,omitempty"`
	Strategy   string    `json:"strategy"`
	At         time.Time `json:"timestamp"`
}

// Validate enforces the contract: prices positive, confidence and strength in
// range, and stop/target on the correct side of entry for the direction
// (BUY: stop < entry < target; SELL mirrored).
func (s Signal) Validate() error {
	if s.Asset == "" {
		return fmt.Errorf("signal missing asset")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("signal %s: unknown direction %q", s.Asset, s.Direction)
	}
	if s.Entry <= 0 || s.Stop <= 0 || s.Target <= 0 {
		return fmt.Errorf("signal %s: prices must be positive (entry=%.2f stop=%.2f target=%.2f)",
			s.Asset, s.Entry, s.Stop, s.Target)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.2f outside [0,1]", s.Asset, s.Confidence)
	}
	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("signal %s: strength %.2f outside [0,1]", s.Asset, s.Strength)
	}
	if s.Direction.BuySide() {
		if !(s.Stop < s.Entry && s.Entry < s.Target) {
			return fmt.Errorf("signal %s %s: want stop < entry < target, got stop=%.2f entry=%.2f target=%.2f",
				s.Asset, s.Direction, s.Stop, s.Entry, s.Target)
		}
	} else {
		if !(s.Target < s.Entry && s.Entry < s.Stop) {
			return fmt.Errorf("signal %s %s: want target < entry < stop, got target=%.2f entry=%.2f stop=%.2f",
				s.Asset, s.Direction, s.Target, s.Entry, s.Stop)
		}
	}
	return nil
}

// RiskPerUnit is the per-unit loss if the stop is hit.
func (s Signal) RiskPerUnit() float64 {
	return math.Abs(s.Entry - s.Stop)
}
