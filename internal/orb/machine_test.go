package orb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/session"
)

var ny = mustLoc("America/New_York")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2025, 3, 12, t.Hour(), t.Minute(), 0, 0, ny)
}

func bar(hhmm string, o, h, l, c float64) market.Bar {
	return market.Bar{Time: at(hhmm), Open: o, High: h, Low: l, Close: c}
}

func testBounds() session.Boundaries {
	return session.Boundaries{
		Date:       "2025-03-12",
		Open:       at("09:30"),
		Close:      at("16:00"),
		ORBEnd:     at("09:45"),
		TradeStart: at("09:45"),
		TradeEnd:   at("16:00"),
	}
}

func testMachine(r Range) Machine {
	return NewMachine(config.DefaultParams(), testBounds(), r)
}

// longAt100 opens a long at exactly 100 (range high 97 -> long level 99).
func longAt100(t *testing.T, m Machine) State {
	t.Helper()
	st, trades := m.Advance(NewState("2025-03-12"), []market.Bar{bar("09:50", 98, 100, 97, 100)})
	require.Empty(t, trades)
	require.True(t, st.TradeOpen)
	require.Equal(t, Long, st.Direction)
	require.Equal(t, 100.0, st.EntryPrice)
	return st
}

func TestComputeRange(t *testing.T) {
	b := testBounds()
	bars := []market.Bar{
		bar("09:29", 0, 500, 1, 0), // before open
		bar("09:30", 95, 98, 93, 96),
		bar("09:37", 96, 100, 94, 99),
		bar("09:44", 99, 99, 90, 91),
		bar("09:45", 91, 200, 10, 91), // ORBEnd is exclusive
	}
	r, ok := ComputeRange(bars, b)
	require.True(t, ok)
	assert.Equal(t, Range{High: 100, Low: 90}, r)

	_, ok = ComputeRange(bars[:1], b)
	assert.False(t, ok, "no bar inside the window yet")

	_, ok = ComputeRange(nil, b)
	assert.False(t, ok)
}

func TestRangeLevels(t *testing.T) {
	long, short := Range{High: 100, Low: 90}.Levels(2)
	assert.Equal(t, 102.0, long)
	assert.Equal(t, 88.0, short)
}

func TestLongBreakoutEntry(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	st, trades := m.Advance(NewState("2025-03-12"), []market.Bar{bar("09:50", 101, 103, 100.5, 102.5)})

	assert.Empty(t, trades)
	assert.Equal(t, TradeOpen, st.Phase())
	assert.True(t, st.TradeExecuted)
	assert.Equal(t, Long, st.Direction)
	assert.Equal(t, at("09:50"), st.EntryTime)
	assert.Equal(t, 102.5, st.EntryPrice)
	assert.Equal(t, 102.5, st.Watermark)
	assert.Equal(t, 87.5, st.StopPrice)
	assert.False(t, st.BETriggered)
}

func TestShortBreakoutEntry(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{bar("10:05", 89, 89.5, 87, 87.5)})

	assert.Equal(t, Short, st.Direction)
	assert.Equal(t, 87.5, st.EntryPrice)
	assert.Equal(t, 87.5, st.Watermark)
	assert.Equal(t, 102.5, st.StopPrice)
}

func TestEntryTieBreakPrefersLong(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{bar("09:55", 95, 103, 87, 95)})
	assert.Equal(t, Long, st.Direction)
}

func TestNoEntryBeforeTradeStart(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{
		bar("09:40", 95, 120, 80, 95),
		bar("09:44", 95, 120, 80, 95),
	})
	assert.Equal(t, NoTrade, st.Phase())
	assert.Equal(t, at("09:44"), st.LastProcessed, "skipped bars still move the high-water mark")
}

func TestNoEntryAfterTradeEnd(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{bar("16:01", 95, 120, 95, 110)})
	assert.Equal(t, NoTrade, st.Phase())
	assert.Equal(t, at("16:01"), st.LastProcessed)
}

func TestEntryBarIsNotManaged(t *testing.T) {
	m := testMachine(Range{High: 100, Low: 90})
	// The bar's high (130) would be a take-profit for an entry at 102.5 if
	// the entry bar were managed.
	st, trades := m.Advance(NewState("2025-03-12"), []market.Bar{bar("09:50", 101, 130, 100, 102.5)})
	assert.Empty(t, trades)
	assert.True(t, st.TradeOpen)
	assert.Equal(t, 102.5, st.Watermark)
}

func TestTakeProfit(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)

	st, trades := m.Advance(st, []market.Bar{bar("09:51", 100, 121, 100, 118)})
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, ExitTakeProfit, tr.Reason)
	assert.Equal(t, 120.0, tr.ExitPrice)
	assert.Equal(t, 20.0, tr.PnLPoints)
	assert.Equal(t, 400.0, tr.PnLUSD)
	assert.Equal(t, "2025-03-12", tr.Date)
	assert.Equal(t, at("09:50"), tr.EntryTime)
	assert.Equal(t, at("09:51"), tr.ExitTime)
	assert.NotEmpty(t, tr.ID)
	assert.True(t, tr.Win())

	assert.Equal(t, TradeClosed, st.Phase())
	assert.Equal(t, Flat, st.Direction)
}

func TestTakeProfitBeatsStopInSameBar(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)

	_, trades := m.Advance(st, []market.Bar{bar("09:51", 100, 125, 80, 90)})
	require.Len(t, trades, 1)
	assert.Equal(t, ExitTakeProfit, trades[0].Reason)
}

func TestTrailingStopExit(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)

	_, trades := m.Advance(st, []market.Bar{bar("09:51", 99, 100, 84, 86)})
	require.Len(t, trades, 1)
	assert.Equal(t, ExitTrailingStop, trades[0].Reason)
	assert.Equal(t, 85.0, trades[0].ExitPrice)
	assert.Equal(t, -15.0, trades[0].PnLPoints)
	assert.Equal(t, -300.0, trades[0].PnLUSD)
	assert.False(t, trades[0].Win())
}

func TestShortTakeProfitAndStop(t *testing.T) {
	m := testMachine(Range{High: 110, Low: 102})
	// short level 100; enter at close 100
	st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{bar("10:00", 101, 101, 99, 100)})
	require.Equal(t, Short, st.Direction)

	closed, trades := m.Advance(st, []market.Bar{bar("10:01", 99, 100, 79, 82)})
	require.Len(t, trades, 1)
	assert.Equal(t, ExitTakeProfit, trades[0].Reason)
	assert.Equal(t, 80.0, trades[0].ExitPrice)
	assert.Equal(t, 20.0, trades[0].PnLPoints)
	assert.Equal(t, TradeClosed, closed.Phase())

	_, trades = m.Advance(st, []market.Bar{bar("10:01", 101, 116, 100.5, 114)})
	require.Len(t, trades, 1)
	assert.Equal(t, ExitTrailingStop, trades[0].Reason)
	assert.Equal(t, 115.0, trades[0].ExitPrice)
	assert.Equal(t, -15.0, trades[0].PnLPoints)
}

func TestBreakevenThenTrail(t *testing.T) {
	p := config.DefaultParams()
	p.TakeProfit = 100 // keep the target out of the way
	m := NewMachine(p, testBounds(), Range{High: 97, Low: 90})
	st := longAt100(t, m)

	st, trades := m.Advance(st, []market.Bar{bar("09:51", 101, 115, 110, 112)})
	require.Empty(t, trades)
	assert.Equal(t, 115.0, st.Watermark)
	assert.Equal(t, 100.0, st.StopPrice)
	assert.True(t, st.BETriggered)

	st, trades = m.Advance(st, []market.Bar{bar("09:52", 112, 130, 116, 128)})
	require.Empty(t, trades)
	assert.Equal(t, 130.0, st.Watermark)
	assert.Equal(t, 115.0, st.StopPrice)
	assert.True(t, st.BETriggered)

	// pullback does not loosen the stop
	st, _ = m.Advance(st, []market.Bar{bar("09:53", 128, 128, 116, 117)})
	assert.Equal(t, 115.0, st.StopPrice)
}

func TestBreakevenPullsStopWhenTrailLags(t *testing.T) {
	p := config.DefaultParams()
	p.TrailDistance = 20
	p.BreakevenTrigger = 10
	p.TakeProfit = 100
	m := NewMachine(p, testBounds(), Range{High: 97, Low: 90})
	st := longAt100(t, m)
	require.Equal(t, 80.0, st.StopPrice)

	st, _ = m.Advance(st, []market.Bar{bar("09:51", 101, 111, 105, 110)})
	// trail says 91, breakeven says 100
	assert.Equal(t, 100.0, st.StopPrice)
	assert.True(t, st.BETriggered)
}

func TestEndOfDayExit(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)

	st, trades := m.Advance(st, []market.Bar{
		bar("15:59", 101, 104, 99, 103),
		bar("16:00", 103, 105, 101, 104.25),
		bar("16:01", 104, 150, 50, 104),
	})
	require.Len(t, trades, 1)
	assert.Equal(t, ExitEndOfDay, trades[0].Reason)
	assert.Equal(t, 104.25, trades[0].ExitPrice)
	assert.Equal(t, at("16:00"), trades[0].ExitTime)
	assert.Equal(t, at("16:01"), st.LastProcessed)
}

func TestOneTradePerSession(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)

	st, trades := m.Advance(st, []market.Bar{
		bar("09:51", 100, 121, 100, 118), // take profit
		bar("09:52", 118, 130, 117, 129), // fresh breakout, ignored
		bar("09:53", 80, 85, 70, 72),     // short breakout, ignored
	})
	assert.Len(t, trades, 1)
	assert.Equal(t, TradeClosed, st.Phase())
	assert.False(t, st.TradeOpen)
}

func TestAdvanceIsIdempotent(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	bars := []market.Bar{
		bar("09:46", 95, 96, 94, 95),
		bar("09:50", 98, 100, 97, 100),
		bar("09:51", 100, 110, 99, 108),
	}
	st, _ := m.Advance(NewState("2025-03-12"), bars)

	again, trades := m.Advance(st, bars)
	assert.Empty(t, trades)
	assert.Equal(t, st, again)
}

func TestAdvanceInChunksMatchesSingleBatch(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	bars := []market.Bar{
		bar("09:44", 95, 96, 94, 95),
		bar("09:46", 95, 96, 94, 95),
		bar("09:50", 98, 100, 97, 100),
		bar("09:51", 100, 112, 99, 108),
		bar("09:52", 108, 116, 105, 114),
		bar("09:53", 114, 114, 99, 101),
	}
	whole, wholeTrades := m.Advance(NewState("2025-03-12"), bars)

	st := NewState("2025-03-12")
	var chunked []CompletedTrade
	for i := range bars {
		// overlapping fetches: every call re-sends everything so far
		var trades []CompletedTrade
		st, trades = m.Advance(st, bars[:i+1])
		chunked = append(chunked, trades...)
	}

	assert.Equal(t, whole, st)
	require.Len(t, wholeTrades, 1)
	require.Len(t, chunked, 1)
	assert.Equal(t, wholeTrades[0].Reason, chunked[0].Reason)
	assert.Equal(t, wholeTrades[0].ExitPrice, chunked[0].ExitPrice)
	assert.Equal(t, ExitTrailingStop, chunked[0].Reason)
	assert.Equal(t, 101.0, chunked[0].ExitPrice) // watermark 116 - 15
}

func TestStopIsMonotonic(t *testing.T) {
	p := config.DefaultParams()
	p.TakeProfit = 1000
	p.TrailDistance = 30
	cases := []struct {
		name  string
		rng   Range
		entry market.Bar
		path  [][2]float64 // high, low
	}{
		{"long", Range{High: 97, Low: 90}, bar("09:50", 98, 100, 97, 100),
			[][2]float64{{105, 99}, {103, 95}, {120, 110}, {118, 101}, {140, 125}, {130, 115}}},
		{"short", Range{High: 110, Low: 102}, bar("09:50", 101, 101, 99, 100),
			[][2]float64{{101, 95}, {104, 97}, {90, 80}, {99, 85}, {75, 60}, {88, 70}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(p, testBounds(), tc.rng)
			st, _ := m.Advance(NewState("2025-03-12"), []market.Bar{tc.entry})
			require.True(t, st.TradeOpen)
			long := st.Direction == Long
			prev := st.StopPrice
			ts := tc.entry.Time
			for _, hl := range tc.path {
				ts = ts.Add(time.Minute)
				var trades []CompletedTrade
				st, trades = m.Advance(st, []market.Bar{{Time: ts, Open: hl[1], High: hl[0], Low: hl[1], Close: hl[1]}})
				require.Empty(t, trades)
				if long {
					assert.GreaterOrEqual(t, st.StopPrice, prev)
				} else {
					assert.LessOrEqual(t, st.StopPrice, prev)
				}
				prev = st.StopPrice
			}
		})
	}
}

func TestSettleClosesWhenEndBarMissing(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)
	day := []market.Bar{
		bar("09:50", 98, 100, 97, 100),
		bar("15:58", 101, 104, 99, 103.5),
		bar("16:02", 104, 104, 103, 103),
	}
	st, trades := m.Advance(st, day)
	require.Empty(t, trades)
	require.True(t, st.TradeOpen)

	st, tr := m.Settle(st, day)
	require.NotNil(t, tr)
	assert.Equal(t, ExitEndOfDay, tr.Reason)
	assert.Equal(t, 103.5, tr.ExitPrice)
	assert.Equal(t, at("15:58"), tr.ExitTime)
	assert.Equal(t, TradeClosed, st.Phase())
}

func TestSettleNoopBeforeTradeEnd(t *testing.T) {
	m := testMachine(Range{High: 97, Low: 90})
	st := longAt100(t, m)
	st2, tr := m.Settle(st, []market.Bar{bar("09:50", 98, 100, 97, 100), bar("12:00", 100, 101, 99, 100)})
	assert.Nil(t, tr)
	assert.Equal(t, st, st2)
}

func TestUnrealized(t *testing.T) {
	st := State{TradeOpen: true, Direction: Short, EntryPrice: 100}
	pts, usd := st.Unrealized(95.5, 20)
	assert.Equal(t, 4.5, pts)
	assert.Equal(t, 90.0, usd)

	pts, usd = NewState("x").Unrealized(95.5, 20)
	assert.Zero(t, pts)
	assert.Zero(t, usd)
}
