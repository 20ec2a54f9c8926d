// Package orb is the opening range breakout core: the range calculator and
// the per-session state machine that opens, trails and closes at most one
// position per session.
//
// The machine is pure. It never touches the clock, the disk or the network;
// callers feed it bars and persist what it returns.
package orb

import (
	"time"
)

// Direction of the session's position.
type Direction string

const (
	Flat  Direction = ""
	Long  Direction = "long"
	Short Direction = "short"
)

// ExitReason says which rule closed a position.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "TakeProfit"
	ExitTrailingStop ExitReason = "TrailingStop"
	ExitEndOfDay     ExitReason = "EndOfDay"
)

// Phase of a session. NoTrade -> TradeOpen -> TradeClosed; never backwards.
type Phase int

const (
	NoTrade Phase = iota
	TradeOpen
	TradeClosed
)

func (p Phase) String() string {
	switch p {
	case TradeOpen:
		return "trade_open"
	case TradeClosed:
		return "trade_closed"
	default:
		return "no_trade"
	}
}

// State is everything that survives between invocations for one session date.
//
// EntryTime is zero until an entry happens; EntryPrice and StopPrice are only
// meaningful once it is set. Watermark is only meaningful while TradeOpen.
// LastProcessed is the high-water mark of bars already folded in (zero when
// none).
type State struct {
	SessionDate   string
	TradeExecuted bool
	TradeOpen     bool
	Direction     Direction
	EntryTime     time.Time
	EntryPrice    float64
	StopPrice     float64
	Watermark     float64
	BETriggered   bool
	LastProcessed time.Time
}

// NewState is the default state for a session date never seen before.
func NewState(date string) State {
	return State{SessionDate: date}
}

// Phase derives the session phase from the flags.
func (s State) Phase() Phase {
	switch {
	case s.TradeOpen:
		return TradeOpen
	case s.TradeExecuted:
		return TradeClosed
	default:
		return NoTrade
	}
}

// HasEntry reports whether a position was ever opened this session.
func (s State) HasEntry() bool { return !s.EntryTime.IsZero() }

// Unrealized marks the open position at lastClose. Zero when flat.
func (s State) Unrealized(lastClose, pointValue float64) (points, usd float64) {
	if !s.TradeOpen {
		return 0, 0
	}
	points = pnlPoints(s.Direction, s.EntryPrice, lastClose)
	return points, points * pointValue
}

// CompletedTrade is emitted exactly once when a position closes.
type CompletedTrade struct {
	ID         string
	Date       string
	Direction  Direction
	EntryTime  time.Time
	EntryPrice float64
	ExitTime   time.Time
	ExitPrice  float64
	PnLPoints  float64
	PnLUSD     float64
	Reason     ExitReason
}

// Win reports a strictly positive result.
func (t CompletedTrade) Win() bool { return t.PnLPoints > 0 }

func pnlPoints(d Direction, entry, exit float64) float64 {
	if d == Short {
		return entry - exit
	}
	return exit - entry
}
