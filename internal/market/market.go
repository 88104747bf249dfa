// Package market holds quote and session-calendar primitives shared by the
// broker gateways, strategies and the risk manager.
package market

import (
	"time"
)

// Quote source tiers, recorded so consumers can tell a live price from a
// fallback one.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Quote is a normalized last-traded-price snapshot.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Price    float64   `json:"price"`
	Volume   int64     `json:"volume"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
}

// Calendar decides whether the market is open at a given instant. NSE/BSE
// cash and derivatives sessions run 09:15-15:30 IST on weekdays.
type Calendar struct {
	loc        *time.Location
	openMins   int
	closeMins  int
	alwaysOpen bool
}

// NewCalendar builds a calendar for the given session window. tz is an IANA
// zone name; open and close are "HH:MM" local times. alwaysOpen bypasses the
// window entirely (round-the-clock paper runs, tests).
func NewCalendar(tz, open, close string, alwaysOpen bool) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	openMins, err := parseClock(open)
	if err != nil {
		return nil, err
	}
	closeMins, err := parseClock(close)
	if err != nil {
		return nil, err
	}
	return &Calendar{loc: loc, openMins: openMins, closeMins: closeMins, alwaysOpen: alwaysOpen}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsOpen reports whether t falls inside the trading session. Both boundary
// minutes are inside the session.
func (c *Calendar) IsOpen(t time.Time) bool {
	if c.alwaysOpen {
		return true
	}
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	return mins >= c.openMins && mins <= c.closeMins
}

// Day returns the trading-day key ("2006-01-02" in the calendar's zone) used
// for daily P&L and trade-count rollovers.
func (c *Calendar) Day(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
