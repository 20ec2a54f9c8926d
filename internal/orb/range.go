package orb

import (
	"errors"

	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/session"
)

// ErrRangeNotReady means no bar of the opening range window has arrived yet.
var ErrRangeNotReady = errors.New("orb: opening range not ready")

// Range is the high/low of the opening range window.
type Range struct {
	High float64
	Low  float64
}

// Levels returns the breakout triggers: High+offset and Low-offset.
func (r Range) Levels(offset float64) (long, short float64) {
	return r.High + offset, r.Low - offset
}

// ComputeRange reduces the bars with Open <= t < ORBEnd. ok is false while no
// such bar exists yet (invoked before or early in the window).
func ComputeRange(bars []market.Bar, b session.Boundaries) (r Range, ok bool) {
	for _, bar := range bars {
		if bar.Time.Before(b.Open) || !bar.Time.Before(b.ORBEnd) {
			continue
		}
		if !ok {
			r = Range{High: bar.High, Low: bar.Low}
			ok = true
			continue
		}
		if bar.High > r.High {
			r.High = bar.High
		}
		if bar.Low < r.Low {
			r.Low = bar.Low
		}
	}
	return r, ok
}

// RangeFor is ComputeRange with the not-ready case reported as ErrRangeNotReady.
func RangeFor(bars []market.Bar, b session.Boundaries) (Range, error) {
	r, ok := ComputeRange(bars, b)
	if !ok {
		return Range{}, ErrRangeNotReady
	}
	return r, nil
}
