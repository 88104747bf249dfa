// Package journal records what the engine did: structured events for the
// database journal, and append-only CSV logs of order attempts and evaluated
// signals for dashboards and audits.
package journal

import (
	"context"
	"time"
)

// Event is one journaled occurrence: an order, a trade close, a rejection,
// an emergency stop. Data carries the event-specific payload.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"` // "order", "trade", "signal", "risk", "error"
	Description string         `json:"description"`
	Data        map[string]any `json:"data"`
}

// Journaler persists events. Implementations must never block trading on
// failure; callers log and continue.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
