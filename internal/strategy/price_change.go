package strategy

import (
	"math"
	"sync"

	"sensextrader/internal/market"
	"sensextrader/internal/signal"
)

// PriceChange signals in the direction of a sustained move away from a
// per-symbol baseline. The first quote for a symbol sets its baseline; a
// move beyond the threshold emits a signal and resets the baseline to the
// new level, so one leg of a move produces one signal, not one per cycle.
type PriceChange struct {
	stopPct    float64
	targetPct  float64
	minMovePct float64

	mu       sync.Mutex
	baseline map[string]float64
}

func NewPriceChange(cfg Config) *PriceChange {
	minMove := cfg.MinMovePct
	if minMove <= 0 {
		minMove = 0.005
	}
	return &PriceChange{
		stopPct:    cfg.StopLossPct,
		targetPct:  cfg.TargetPct,
		minMovePct: minMove,
		baseline:   make(map[string]float64),
	}
}

func (s *PriceChange) Name() string { return "price-change" }

func (s *PriceChange) OnQuote(q market.Quote) *signal.Signal {
	if q.Price <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.baseline[q.Symbol]
	if !ok {
		s.baseline[q.Symbol] = q.Price
		return nil
	}
	move := (q.Price - base) / base
	if math.Abs(move) < s.minMovePct {
		return nil
	}
	s.baseline[q.Symbol] = q.Price

	dir := signal.Buy
	if move < 0 {
		dir = signal.Sell
	}
	stop, target := exitLevels(q.Price, dir.BuySide(), s.stopPct, s.targetPct)
	return &signal.Signal{
		Asset:      q.Symbol,
		AssetType:  signal.Stock,
		Direction:  dir,
		Entry:      q.Price,
		Stop:       stop,
		Target:     target,
		Confidence: confidenceTier(math.Abs(move), s.minMovePct),
		Strength:   strengthFor(math.Abs(move), s.minMovePct),
		Strategy:   s.Name(),
		At:         q.Time,
	}
}

// confidenceTier maps move size to confidence: bigger moves, higher tiers.
func confidenceTier(move, threshold float64) float64 {
	switch {
	case move >= 4*threshold:
		return 0.95
	case move >= 2*threshold:
		return 0.85
	default:
		return 0.75
	}
}

// strengthFor scales linearly with the move, capped at 1.
func strengthFor(move, threshold float64) float64 {
	s := move / (4 * threshold)
	if s > 1 {
		return 1
	}
	if s < 0.25 {
		return 0.25
	}
	return s
}
