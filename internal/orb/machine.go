package orb

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/session"
)

// Machine advances one session's State bar by bar. It holds only immutable
// inputs; the State is passed in and returned.
type Machine struct {
	Params config.Params
	Bounds session.Boundaries
	Range  Range
}

// NewMachine wires the session inputs together.
func NewMachine(p config.Params, b session.Boundaries, r Range) Machine {
	return Machine{Params: p, Bounds: b, Range: r}
}

// Levels returns the long and short breakout triggers.
func (m Machine) Levels() (long, short float64) { return m.Range.Levels(m.Params.Offset) }

// Advance folds bars (ascending) into st and returns the new state with the
// trades closed along the way. Bars at or before st.LastProcessed are
// skipped, so repeating a call with an overlapping batch changes nothing.
func (m Machine) Advance(st State, bars []market.Bar) (State, []CompletedTrade) {
	var trades []CompletedTrade
	for _, bar := range bars {
		if !st.LastProcessed.IsZero() && !bar.Time.After(st.LastProcessed) {
			continue
		}
		if t := m.Step(&st, bar); t != nil {
			trades = append(trades, *t)
		}
	}
	return st, trades
}

// Step is the single-bar transition. It always moves LastProcessed to the
// bar's time, even when the bar is outside the trading window.
func (m Machine) Step(st *State, bar market.Bar) *CompletedTrade {
	defer func() { st.LastProcessed = bar.Time }()

	if !m.acts(st, bar.Time) {
		return nil
	}
	switch st.Phase() {
	case NoTrade:
		if !bar.Time.Before(m.Bounds.TradeStart) {
			m.enter(st, bar)
		}
		// the entry bar is never managed
		return nil
	case TradeOpen:
		return m.manage(st, bar)
	default:
		return nil
	}
}

// acts: inside [TradeStart, TradeEnd], or an open trade not yet past TradeEnd.
func (m Machine) acts(st *State, t time.Time) bool {
	if m.Bounds.InWindow(t) {
		return true
	}
	return st.TradeOpen && !t.After(m.Bounds.TradeEnd)
}

// enter opens at the bar's close when a level is touched; long wins ties.
func (m Machine) enter(st *State, bar market.Bar) {
	longLvl, shortLvl := m.Levels()
	var dir Direction
	switch {
	case bar.High >= longLvl:
		dir = Long
	case bar.Low <= shortLvl:
		dir = Short
	default:
		return
	}
	st.TradeExecuted = true
	st.TradeOpen = true
	st.Direction = dir
	st.EntryTime = bar.Time
	st.EntryPrice = bar.Close
	st.Watermark = bar.Close
	st.StopPrice = bar.Close - m.Params.TrailDistance
	if dir == Short {
		st.StopPrice = bar.Close + m.Params.TrailDistance
	}
	st.BETriggered = false
}

// manage updates watermark, trailing stop and breakeven, then runs the exit
// rules in priority order.
func (m Machine) manage(st *State, bar market.Bar) *CompletedTrade {
	long := st.Direction == Long

	if long {
		st.Watermark = math.Max(st.Watermark, bar.High)
		st.StopPrice = tighten(long, st.StopPrice, st.Watermark-m.Params.TrailDistance)
	} else {
		st.Watermark = math.Min(st.Watermark, bar.Low)
		st.StopPrice = tighten(long, st.StopPrice, st.Watermark+m.Params.TrailDistance)
	}

	if !st.BETriggered && pnlPoints(st.Direction, st.EntryPrice, st.Watermark) >= m.Params.BreakevenTrigger {
		st.StopPrice = tighten(long, st.StopPrice, st.EntryPrice)
		st.BETriggered = true
	}

	for _, rule := range exitRules {
		if px, hit := rule.check(m, st, bar); hit {
			return m.close(st, bar.Time, px, rule.reason)
		}
	}
	return nil
}

// Settle force-closes a position whose end-of-day bar never arrived: once any
// bar newer than TradeEnd exists, the trade exits at the close of the last bar
// at or before TradeEnd. day holds all of the session's bars, ascending.
func (m Machine) Settle(st State, day []market.Bar) (State, *CompletedTrade) {
	if !st.TradeOpen || len(day) == 0 || !day[len(day)-1].Time.After(m.Bounds.TradeEnd) {
		return st, nil
	}
	var last *market.Bar
	for i := range day {
		if day[i].Time.After(m.Bounds.TradeEnd) {
			break
		}
		last = &day[i]
	}
	if last == nil || last.Time.Before(st.EntryTime) {
		return st, nil
	}
	t := m.close(&st, last.Time, last.Close, ExitEndOfDay)
	return st, t
}

func (m Machine) close(st *State, at time.Time, price float64, reason ExitReason) *CompletedTrade {
	pts := pnlPoints(st.Direction, st.EntryPrice, price)
	t := &CompletedTrade{
		ID:         uuid.NewString(),
		Date:       st.SessionDate,
		Direction:  st.Direction,
		EntryTime:  st.EntryTime,
		EntryPrice: st.EntryPrice,
		ExitTime:   at,
		ExitPrice:  price,
		PnLPoints:  pts,
		PnLUSD:     pts * m.Params.PointValue,
		Reason:     reason,
	}
	st.TradeOpen = false
	st.Direction = Flat
	st.Watermark = 0
	return t
}

// tighten moves a stop toward price only: up for longs, down for shorts.
func tighten(long bool, stop, candidate float64) float64 {
	if long {
		return math.Max(stop, candidate)
	}
	return math.Min(stop, candidate)
}

type exitRule struct {
	reason ExitReason
	check  func(m Machine, st *State, bar market.Bar) (price float64, hit bool)
}

// exitRules are evaluated top to bottom; the first hit wins.
var exitRules = []exitRule{
	{ExitTakeProfit, takeProfitHit},
	{ExitTrailingStop, stopHit},
	{ExitEndOfDay, endOfDayHit},
}

func takeProfitHit(m Machine, st *State, bar market.Bar) (float64, bool) {
	if st.Direction == Long {
		tp := st.EntryPrice + m.Params.TakeProfit
		return tp, bar.High >= tp
	}
	tp := st.EntryPrice - m.Params.TakeProfit
	return tp, bar.Low <= tp
}

func stopHit(_ Machine, st *State, bar market.Bar) (float64, bool) {
	if st.Direction == Long {
		return st.StopPrice, bar.Low <= st.StopPrice
	}
	return st.StopPrice, bar.High >= st.StopPrice
}

func endOfDayHit(m Machine, _ *State, bar market.Bar) (float64, bool) {
	return bar.Close, !bar.Time.Before(m.Bounds.TradeEnd)
}
