// FILE: trades.go
// Package report - Everything the evaluator writes for humans and the UI.
//
// Outputs under the reports directory:
//   - trades_YYYY-MM-DD.csv      one row per completed trade (append-only)
//   - summary_last_10_days.csv   rolling per-session results, one row per date
//   - summary.json               same rows plus winrate and totals
//   - latest.json                status snapshot of the current invocation
//   - intraday_today.json        today's session candles for the chart
//
// Prices and P&L are rounded to cents with shopspring/decimal before they are
// written so the files never carry float noise like 100.24999999.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/orbnq/internal/orb"
	"github.com/chidi150c/orbnq/internal/store"
)

const (
	summaryCSV  = "summary_last_10_days.csv"
	summaryJSON = "summary.json"
)

var tradeColumns = []string{
	"date", "direction", "entry_time", "entry_price", "exit_time", "exit_price",
	"pnl_points", "pnl_usd", "exit_reason",
}

var summaryColumns = []string{
	"date", "direction", "entry_time", "entry_price", "exit_time", "exit_price",
	"pnl_points", "pnl_usd", "win",
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func fmt2(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) }

// Recorder receives each completed trade exactly once.
type Recorder interface {
	Record(t orb.CompletedTrade) error
	Summary() (*Summary, error)
}

// SummaryRow is one session in the rolling summary.
type SummaryRow struct {
	Date       string  `json:"date"`
	Direction  string  `json:"direction"`
	EntryTime  string  `json:"entry_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitTime   string  `json:"exit_time"`
	ExitPrice  float64 `json:"exit_price"`
	PnLPoints  float64 `json:"pnl_points"`
	PnLUSD     float64 `json:"pnl_usd"`
	Win        int     `json:"win"`
}

// Summary is the rolling window. Winrate is nil when there are no rows.
// The JSON key stays "last_10" whatever the window size.
type Summary struct {
	Rows           []SummaryRow `json:"last_10"`
	Winrate        *float64     `json:"winrate"`
	TotalPnLPoints float64      `json:"total_pnl_points"`
	TotalPnLUSD    float64      `json:"total_pnl_usd"`
}

// Summarize computes the aggregates over rows.
func Summarize(rows []SummaryRow) Summary {
	s := Summary{Rows: rows}
	if s.Rows == nil {
		s.Rows = []SummaryRow{}
	}
	if len(rows) == 0 {
		return s
	}
	wins := 0
	pts, usd := decimal.Zero, decimal.Zero
	for _, r := range rows {
		wins += r.Win
		pts = pts.Add(decimal.NewFromFloat(r.PnLPoints))
		usd = usd.Add(decimal.NewFromFloat(r.PnLUSD))
	}
	wr := float64(wins) / float64(len(rows))
	s.Winrate = &wr
	s.TotalPnLPoints = pts.Round(2).InexactFloat64()
	s.TotalPnLUSD = usd.Round(2).InexactFloat64()
	return s
}

// FileRecorder writes the trade log and rolling summary under dir.
type FileRecorder struct {
	dir    string
	window int
}

func NewFileRecorder(dir string, window int) *FileRecorder {
	if window <= 0 {
		window = 10
	}
	return &FileRecorder{dir: dir, window: window}
}

// TradeLogPath is the per-session trade log.
func (r *FileRecorder) TradeLogPath(date string) string {
	return filepath.Join(r.dir, "trades_"+date+".csv")
}

// Record appends t to the session's trade log, then folds it into the summary.
func (r *FileRecorder) Record(t orb.CompletedTrade) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	if err := r.appendTradeLog(t); err != nil {
		return err
	}
	return r.updateSummary(rowFor(t))
}

func (r *FileRecorder) appendTradeLog(t orb.CompletedTrade) error {
	path := r.TradeLogPath(t.Date)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("report: open trade log: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("report: stat trade log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write(tradeColumns)
	}
	_ = w.Write([]string{
		t.Date,
		string(t.Direction),
		t.EntryTime.Format(time.RFC3339),
		fmt2(t.EntryPrice),
		t.ExitTime.Format(time.RFC3339),
		fmt2(t.ExitPrice),
		fmt2(t.PnLPoints),
		fmt2(t.PnLUSD),
		string(t.Reason),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: write trade log: %w", err)
	}
	return f.Sync()
}

func rowFor(t orb.CompletedTrade) SummaryRow {
	row := SummaryRow{
		Date:       t.Date,
		Direction:  string(t.Direction),
		EntryTime:  t.EntryTime.Format(time.RFC3339),
		EntryPrice: Round2(t.EntryPrice),
		ExitTime:   t.ExitTime.Format(time.RFC3339),
		ExitPrice:  Round2(t.ExitPrice),
		PnLPoints:  Round2(t.PnLPoints),
		PnLUSD:     Round2(t.PnLUSD),
	}
	if t.Win() {
		row.Win = 1
	}
	return row
}

func (r *FileRecorder) updateSummary(row SummaryRow) error {
	rows, err := readSummaryCSV(filepath.Join(r.dir, summaryCSV))
	if err != nil {
		// start over rather than block recording
		log.Warn().Str("component", "report").Err(err).Msg("unreadable summary csv, rebuilding")
		rows = nil
	}
	rows = Window(append(rows, row), r.window)

	if err := writeSummaryCSV(filepath.Join(r.dir, summaryCSV), rows); err != nil {
		return err
	}
	bs, err := json.MarshalIndent(Summarize(rows), "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal summary: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(r.dir, summaryJSON), bs, 0o644); err != nil {
		return fmt.Errorf("report: write summary: %w", err)
	}
	return nil
}

// Window sorts rows by date, keeps the last row per date and returns the
// newest n.
func Window(rows []SummaryRow, n int) []SummaryRow {
	byDate := make(map[string]int, len(rows))
	var out []SummaryRow
	for _, row := range rows {
		if i, ok := byDate[row.Date]; ok {
			out[i] = row
			continue
		}
		byDate[row.Date] = len(out)
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Summary reads summary.json back; nil when none was written yet.
func (r *FileRecorder) Summary() (*Summary, error) {
	bs, err := os.ReadFile(filepath.Join(r.dir, summaryJSON))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(bs, &s); err != nil {
		return nil, fmt.Errorf("report: parse summary: %w", err)
	}
	return &s, nil
}

func readSummaryCSV(path string) ([]SummaryRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSummary(f)
}

func parseSummary(rd io.Reader) ([]SummaryRow, error) {
	recs, err := csv.NewReader(rd).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	idx := map[string]int{}
	for i, h := range recs[0] {
		idx[h] = i
	}
	for _, c := range summaryColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("summary csv: missing column %q", c)
		}
	}

	var rows []SummaryRow
	for n, rec := range recs[1:] {
		num := func(col string) float64 {
			if err != nil {
				return 0
			}
			var v float64
			v, err = strconv.ParseFloat(rec[idx[col]], 64)
			return v
		}
		row := SummaryRow{
			Date:       rec[idx["date"]],
			Direction:  rec[idx["direction"]],
			EntryTime:  rec[idx["entry_time"]],
			EntryPrice: num("entry_price"),
			ExitTime:   rec[idx["exit_time"]],
			ExitPrice:  num("exit_price"),
			PnLPoints:  num("pnl_points"),
			PnLUSD:     num("pnl_usd"),
			Win:        int(num("win")),
		}
		if err != nil {
			return nil, fmt.Errorf("summary csv: row %d: %w", n+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeSummaryCSV(path string, rows []SummaryRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(summaryColumns)
	for _, r := range rows {
		_ = w.Write([]string{
			r.Date, r.Direction, r.EntryTime, fmt2(r.EntryPrice), r.ExitTime, fmt2(r.ExitPrice),
			fmt2(r.PnLPoints), fmt2(r.PnLUSD), strconv.Itoa(r.Win),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: encode summary csv: %w", err)
	}
	if err := store.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("report: write summary csv: %w", err)
	}
	return nil
}
