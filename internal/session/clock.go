// Package session derives the fixed intraday boundaries of a trading date.
//
// Everything here is a pure function of the date and the configuration; there
// is no I/O and no hidden clock.
package session

import (
	"fmt"
	"time"

	"github.com/chidi150c/orbnq/internal/config"
)

// Non-trading reasons reported by TradingDay.
const (
	ReasonWeekend = "weekend"
	ReasonHoliday = "holiday"
)

// Boundaries are the session timestamps for one date, exchange-local.
// Open < ORBEnd == TradeStart < TradeEnd; TradeEnd never exceeds the close.
type Boundaries struct {
	Date       string // YYYY-MM-DD
	Open       time.Time
	Close      time.Time
	ORBEnd     time.Time
	TradeStart time.Time
	TradeEnd   time.Time
}

// InWindow reports TradeStart <= t <= TradeEnd.
func (b Boundaries) InWindow(t time.Time) bool {
	return !t.Before(b.TradeStart) && !t.After(b.TradeEnd)
}

// Clock maps a calendar date to Boundaries.
type Clock struct {
	loc           *time.Location
	open          time.Duration // offset from local midnight
	close         time.Duration
	openingRange  time.Duration
	tradingWindow time.Duration
	holidays      map[string]struct{}
}

// NewClock builds a Clock from the session fields of cfg.
func NewClock(cfg config.Config) (*Clock, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	open, err := config.ClockOffset(cfg.SessionOpen)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	closeAt, err := config.ClockOffset(cfg.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("session: close: %w", err)
	}
	hol := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		hol[h] = struct{}{}
	}
	return &Clock{
		loc:           loc,
		open:          open,
		close:         closeAt,
		openingRange:  cfg.Params.OpeningRange,
		tradingWindow: cfg.Params.TradingWindow,
		holidays:      hol,
	}, nil
}

// Location is the exchange-local zone.
func (c *Clock) Location() *time.Location { return c.loc }

// Today returns local midnight of the date containing now.
func (c *Clock) Today(now time.Time) time.Time {
	y, m, d := now.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// at builds the wall-clock time offset from midnight of day. Built from
// components rather than Add so DST transition days keep 09:30 at 09:30.
func (c *Clock) at(day time.Time, off time.Duration) time.Time {
	y, m, d := day.In(c.loc).Date()
	h := int(off / time.Hour)
	mi := int((off % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mi, 0, 0, c.loc)
}

// Boundaries computes the session boundaries for the date of day.
func (c *Clock) Boundaries(day time.Time) Boundaries {
	open := c.at(day, c.open)
	closeAt := c.at(day, c.close)
	orbEnd := open.Add(c.openingRange)
	tradeEnd := open.Add(c.tradingWindow)
	if tradeEnd.After(closeAt) {
		tradeEnd = closeAt
	}
	return Boundaries{
		Date:       open.Format(time.DateOnly),
		Open:       open,
		Close:      closeAt,
		ORBEnd:     orbEnd,
		TradeStart: orbEnd,
		TradeEnd:   tradeEnd,
	}
}

// TradingDay reports whether the date of day has a session; when it does
// not, reason is ReasonWeekend or ReasonHoliday.
func (c *Clock) TradingDay(day time.Time) (ok bool, reason string) {
	local := day.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, ReasonWeekend
	}
	if _, hit := c.holidays[local.Format(time.DateOnly)]; hit {
		return false, ReasonHoliday
	}
	return true, ""
}
