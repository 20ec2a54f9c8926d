package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/orb"
	"github.com/chidi150c/orbnq/internal/session"
	"github.com/chidi150c/orbnq/internal/store"
)

// Snapshot statuses.
const (
	StatusInactive = "inactive"
	StatusError    = "error"
	StatusPreORB   = "pre_orb"
	StatusActive   = "active"
)

// ReasonNoData accompanies StatusError when the source returned nothing usable.
const ReasonNoData = "no_data"

const (
	latestJSON   = "latest.json"
	intradayJSON = "intraday_today.json"
)

// Snapshot is latest.json. Sections are omitted when the status does not
// reach them (inactive and error carry only status, reason and now_et).
type Snapshot struct {
	Status         string      `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	NowET          string      `json:"now_et"`
	SessionDate    string      `json:"session_date,omitempty"`
	SessionOpen    string      `json:"session_open,omitempty"`
	ORBEnd         string      `json:"orb_end,omitempty"`
	TradeWindowEnd string      `json:"trade_window_end,omitempty"`
	OpeningRange   *RangeView  `json:"opening_range,omitempty"`
	Params         *ParamsView `json:"params,omitempty"`
	Trade          *TradeView  `json:"trade,omitempty"`
	Summary        *Summary    `json:"summary,omitempty"`
}

type RangeView struct {
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	LongLevel  float64 `json:"long_level"`
	ShortLevel float64 `json:"short_level"`
}

// ParamsView keeps the env key names so the UI can show them as configured.
type ParamsView struct {
	Offset           float64 `json:"OFFSET_POINTS"`
	TrailDistance    float64 `json:"TRAIL_DISTANCE_POINTS"`
	TakeProfit       float64 `json:"TAKE_PROFIT_POINTS"`
	BreakevenTrigger float64 `json:"BREAKEVEN_TRIGGER_POINTS"`
	PointValue       float64 `json:"POINT_VALUE"`
}

// TradeView is either the open position or {open:false, trade_executed}.
type TradeView struct {
	Open                bool     `json:"open"`
	TradeExecuted       *bool    `json:"trade_executed,omitempty"`
	Direction           string   `json:"direction,omitempty"`
	EntryTime           string   `json:"entry_time,omitempty"`
	EntryPrice          *float64 `json:"entry_price,omitempty"`
	StopPrice           *float64 `json:"stop_price,omitempty"`
	WatermarkPrice      *float64 `json:"watermark_price,omitempty"`
	BETriggered         *bool    `json:"be_triggered,omitempty"`
	UnrealizedPnLPoints *float64 `json:"unrealized_pnl_points,omitempty"`
	UnrealizedPnLUSD    *float64 `json:"unrealized_pnl_usd,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Stamp is the timestamp format used in every JSON output.
func Stamp(t time.Time) string { return t.Format(time.RFC3339) }

// Inactive is the snapshot for weekends, holidays and missing data.
func Inactive(status, reason string, now time.Time) Snapshot {
	return Snapshot{Status: status, Reason: reason, NowET: Stamp(now)}
}

// Session fills the session fields; a pre_orb snapshot stops here.
func Session(status string, now time.Time, b session.Boundaries) Snapshot {
	s := Snapshot{
		Status:      status,
		NowET:       Stamp(now),
		SessionDate: b.Date,
		SessionOpen: Stamp(b.Open),
		ORBEnd:      Stamp(b.ORBEnd),
	}
	if status == StatusActive {
		s.TradeWindowEnd = Stamp(b.TradeEnd)
	}
	return s
}

func NewRangeView(r orb.Range, offset float64) *RangeView {
	long, short := r.Levels(offset)
	return &RangeView{
		High:       Round2(r.High),
		Low:        Round2(r.Low),
		LongLevel:  Round2(long),
		ShortLevel: Round2(short),
	}
}

func NewParamsView(p config.Params) *ParamsView {
	return &ParamsView{
		Offset:           p.Offset,
		TrailDistance:    p.TrailDistance,
		TakeProfit:       p.TakeProfit,
		BreakevenTrigger: p.BreakevenTrigger,
		PointValue:       p.PointValue,
	}
}

// NewTradeView marks an open position at lastClose.
func NewTradeView(st orb.State, lastClose, pointValue float64) *TradeView {
	if !st.TradeOpen {
		return &TradeView{Open: false, TradeExecuted: ptr(st.TradeExecuted)}
	}
	pts, usd := st.Unrealized(lastClose, pointValue)
	return &TradeView{
		Open:                true,
		Direction:           string(st.Direction),
		EntryTime:           Stamp(st.EntryTime),
		EntryPrice:          ptr(Round2(st.EntryPrice)),
		StopPrice:           ptr(Round2(st.StopPrice)),
		WatermarkPrice:      ptr(Round2(st.Watermark)),
		BETriggered:         ptr(st.BETriggered),
		UnrealizedPnLPoints: ptr(Round2(pts)),
		UnrealizedPnLUSD:    ptr(Round2(usd)),
	}
}

// Candle is one chart point.
type Candle struct {
	T string  `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// Intraday is intraday_today.json. SessionClose is the trading window end.
type Intraday struct {
	Symbol       string   `json:"symbol"`
	Date         string   `json:"date"`
	SessionOpen  string   `json:"session_open"`
	SessionClose string   `json:"session_close"`
	Candles      []Candle `json:"candles"`
}

// NewIntraday keeps the bars in [Open, min(now, TradeEnd)].
func NewIntraday(symbol string, b session.Boundaries, bars []market.Bar, now time.Time) Intraday {
	end := b.TradeEnd
	if now.Before(end) {
		end = now
	}
	out := Intraday{
		Symbol:       symbol,
		Date:         b.Date,
		SessionOpen:  Stamp(b.Open),
		SessionClose: Stamp(b.TradeEnd),
		Candles:      []Candle{},
	}
	for _, bar := range market.Between(bars, b.Open, end) {
		out.Candles = append(out.Candles, Candle{
			T: Stamp(bar.Time),
			O: Round2(bar.Open),
			H: Round2(bar.High),
			L: Round2(bar.Low),
			C: Round2(bar.Close),
		})
	}
	return out
}

// Writer puts latest.json and intraday_today.json under dir.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

func (w *Writer) WriteSnapshot(s Snapshot) error {
	return w.writeJSON(latestJSON, s)
}

func (w *Writer) WriteIntraday(i Intraday) error {
	return w.writeJSON(intradayJSON, i)
}

func (w *Writer) writeJSON(name string, v any) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal %s: %w", name, err)
	}
	if err := store.WriteFileAtomic(filepath.Join(w.dir, name), bs, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", name, err)
	}
	return nil
}
