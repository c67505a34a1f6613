// Package market provides trading-session clock checks and price rounding.
package market

import (
	"fmt"
	"math"
	"time"
)

// Hours answers whether a given instant falls inside the trading session.
// The zero check is weekday + [open, close) in the session timezone.
type Hours struct {
	loc   *time.Location
	open  sessionClock
	close sessionClock
	now   func() time.Time
}

type sessionClock struct {
	hour   int
	minute int
}

// NewHours builds an Hours from a timezone name and "HH:MM" session bounds.
func NewHours(timezone, start, end string) (*Hours, error) {
	if timezone == "" {
		timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		// A fixed-offset stand-in would silently shift the session across DST
		// transitions, so a missing tz database is a hard failure.
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	open, err := parseSessionClock(start)
	if err != nil {
		return nil, fmt.Errorf("parsing session start: %w", err)
	}
	closeClock, err := parseSessionClock(end)
	if err != nil {
		return nil, fmt.Errorf("parsing session end: %w", err)
	}
	if open.minutes() >= closeClock.minutes() {
		return nil, fmt.Errorf("session start %s must be before end %s", start, end)
	}

	return &Hours{loc: loc, open: open, close: closeClock, now: time.Now}, nil
}

// NewYorkHours returns the standard US equity session, 09:30-16:00 New York.
// It panics when the tz database is unavailable.
func NewYorkHours() *Hours {
	h, err := NewHours("America/New_York", "09:30", "16:00")
	if err != nil {
		panic(err)
	}
	return h
}

func parseSessionClock(value string) (sessionClock, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return sessionClock{}, err
	}
	return sessionClock{hour: t.Hour(), minute: t.Minute()}, nil
}

func (c sessionClock) minutes() int { return c.hour*60 + c.minute }

// IsOpen reports whether t falls within the trading session.
func (h *Hours) IsOpen(t time.Time) bool {
	local := t.In(h.loc)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	// Inclusive open, exclusive close
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= h.open.minutes() && minutes < h.close.minutes()
}

// OpenNow reports whether the session is open at the current instant.
func (h *Hours) OpenNow() bool {
	return h.IsOpen(h.now())
}

// SetNowFunc overrides the clock source. Intended for tests.
func (h *Hours) SetNowFunc(now func() time.Time) {
	h.now = now
}

// RoundToTick rounds x to the nearest tick increment.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToCents rounds a price to two decimals.
func RoundToCents(x float64) float64 {
	return RoundToTick(x, 0.01)
}
