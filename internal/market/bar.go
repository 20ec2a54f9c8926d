// FILE: bar.go
// Package market - Minute bars and the sources that supply them.
//
// Bar is the normalized OHLCV row used everywhere. Sources (Yahoo, CSV,
// cached) all return bars sorted ascending with unique timestamps, already
// converted to the exchange-local location.
package market

import (
	"sort"
	"time"
)

// Bar is one OHLCV row. Time is the bar's open, exchange-local.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// normalize sorts ascending and collapses duplicate timestamps (last wins).
func normalize(bars []Bar) []Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// OnDay keeps the bars whose local calendar date in loc equals day's.
func OnDay(bars []Bar, day time.Time, loc *time.Location) []Bar {
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	var out []Bar
	for _, b := range bars {
		if !b.Time.Before(start) && b.Time.Before(end) {
			out = append(out, b)
		}
	}
	return out
}

// After returns the bars strictly newer than t.
func After(bars []Bar, t time.Time) []Bar {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time.After(t) })
	return bars[i:]
}

// From returns the bars at or after t.
func From(bars []Bar, t time.Time) []Bar {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(t) })
	return bars[i:]
}

// Between returns the bars with from <= Time <= to.
func Between(bars []Bar, from, to time.Time) []Bar {
	var out []Bar
	for _, b := range From(bars, from) {
		if b.Time.After(to) {
			break
		}
		out = append(out, b)
	}
	return out
}
