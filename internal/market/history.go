package market

import (
	"math"
	"sync"
)

// History keeps a bounded window of observed prices per symbol. The engine
// feeds it one price per poll cycle; the risk manager reads a realized
// volatility estimate from it.
type History struct {
	mu     sync.RWMutex
	window int
	prices map[string][]float64
}

// NewHistory builds a history with the given window size per symbol.
func NewHistory(window int) *History {
	if window < 2 {
		window = 2
	}
	return &History{window: window, prices: make(map[string][]float64)}
}

// Observe records a price for symbol, evicting the oldest sample once the
// window is full. Non-positive prices are ignored.
func (h *History) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := append(h.prices[symbol], price)
	if len(p) > h.window {
		p = p[len(p)-h.window:]
	}
	h.prices[symbol] = p
}

// Volatility returns the standard deviation of simple returns over the
// recorded window. ok is false until at least three samples exist, so callers
// can fall back to a configured default estimate.
func (h *History) Volatility(symbol string) (vol float64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.prices[symbol]
	if len(p) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(p)-1)
	for i := 1; i < len(p); i++ {
		if p[i-1] == 0 {
			continue
		}
		returns = append(returns, p[i]/p[i-1]-1)
	}
	if len(returns) < 2 {
		return 0, false
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
	return math.Sqrt(sq / float64(len(returns))), true
}

// Last returns the most recent observed price for symbol, if any.
func (h *History) Last(symbol string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.prices[symbol]
	if len(p) == 0 {
		return 0, false
	}
	return p[len(p)-1], true
}
