// FILE: csv.go
// Package market - CSV bar source for replays and offline runs.
//
// Headers (case-insensitive, unknown columns ignored):
//   time|timestamp, open, high, low, close, volume|vol
// The time column accepts RFC3339 or UNIX seconds.
package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVSource serves the bars of one file, whatever the symbol.
type CSVSource struct {
	path string
	loc  *time.Location
}

func NewCSVSource(path string, loc *time.Location) *CSVSource {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVSource{path: path, loc: loc}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Bars(ctx context.Context, symbol string) ([]Bar, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()
	bars, err := ReadCSV(f, s.loc)
	if err != nil {
		return nil, fmt.Errorf("csv source %s: %w", s.path, err)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

// ReadCSV parses a generic candle CSV. Rows with a bad timestamp or a missing
// or unparsable price are skipped. Volume is optional.
func ReadCSV(r io.Reader, loc *time.Location) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var out []Bar
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		row := map[string]string{}
		for j, h := range headers {
			if j < len(rec) {
				row[h] = strings.TrimSpace(rec[j])
			}
		}
		tt, err := parseTimeFlexible(first(row, "time", "timestamp"))
		if err != nil {
			continue
		}
		var ohlc [4]float64
		ok := true
		for k, col := range []string{"open", "high", "low", "close"} {
			if ohlc[k], err = strconv.ParseFloat(row[col], 64); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		v, _ := strconv.ParseFloat(first(row, "volume", "vol"), 64)
		out = append(out, Bar{Time: tt.In(loc), Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3], Volume: v})
	}
	return normalize(out), nil
}

// parseTimeFlexible supports RFC3339 or UNIX seconds.
func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

// first returns the first non-empty value for keys in m.
func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// WriteCSV writes bars with the header time,open,high,low,close,volume and
// RFC3339 timestamps in each bar's own location; ReadCSV reads it back.
func WriteCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		rec := []string{b.Time.Format(time.RFC3339), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
