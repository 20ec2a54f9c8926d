// Package store persists one orb.State per session date as JSON.
//
// Files are named state_YYYY-MM-DD.json. Unset optional fields are written as
// null. Writes go through WriteFileAtomic so a crash mid-write leaves the
// previous snapshot intact, and the previous snapshot is kept as .bak.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/rs/zerolog/log"

	"github.com/chidi150c/orbnq/internal/orb"
)

// ErrCorrupt is returned (with a fresh state) when a snapshot cannot be used.
var ErrCorrupt = errors.New("store: corrupt state")

// Store loads and saves session state.
type Store interface {
	Load(date string) (orb.State, error)
	Save(st orb.State) error
}

// record is the on-disk schema.
type record struct {
	SessionDate     string   `json:"session_date"`
	TradeExecuted   bool     `json:"trade_executed"`
	TradeOpen       bool     `json:"trade_open"`
	Direction       *string  `json:"direction"`
	EntryTime       *string  `json:"entry_time"`
	EntryPrice      *float64 `json:"entry_price"`
	StopPrice       *float64 `json:"stop_price"`
	WatermarkPrice  *float64 `json:"watermark_price"`
	BETriggered     bool     `json:"be_triggered"`
	LastProcessedTS *string  `json:"last_processed_ts"`
}

var recordSchema = z.Struct(z.Shape{
	"SessionDate": z.String().Required().Match(regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)),
	"Direction":   z.Ptr(z.String().OneOf([]string{string(orb.Long), string(orb.Short)})),
	"EntryPrice":  z.Ptr(z.Float64().GT(0)),
	"StopPrice":   z.Ptr(z.Float64()),
}).TestFunc(openTradeComplete)

// openTradeComplete: an open trade needs every position field.
func openTradeComplete(dataPtr any, ctx z.Ctx) bool {
	r, ok := dataPtr.(*record)
	if !ok || !r.TradeOpen {
		return true
	}
	if !r.TradeExecuted || r.Direction == nil || r.EntryTime == nil || r.EntryPrice == nil ||
		r.StopPrice == nil || r.WatermarkPrice == nil {
		ctx.AddIssue(&z.ZogIssue{
			Path:    "TradeOpen",
			Message: "open trade is missing position fields",
		})
		return false
	}
	return true
}

// FileStore keeps snapshots under dir. Timestamps are read back in loc.
type FileStore struct {
	dir string
	loc *time.Location
}

func NewFileStore(dir string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.UTC
	}
	return &FileStore{dir: dir, loc: loc}
}

// Path is the snapshot file for date.
func (s *FileStore) Path(date string) string {
	return filepath.Join(s.dir, "state_"+date+".json")
}

// Load returns the saved state for date, or a fresh one when none exists.
// An unusable snapshot yields a fresh state together with ErrCorrupt.
func (s *FileStore) Load(date string) (orb.State, error) {
	fresh := orb.NewState(date)
	bs, err := os.ReadFile(s.Path(date))
	if errors.Is(err, os.ErrNotExist) {
		return fresh, nil
	}
	if err != nil {
		return fresh, fmt.Errorf("store: read %s: %w", date, err)
	}
	var rec record
	if err := json.Unmarshal(bs, &rec); err != nil {
		return fresh, fmt.Errorf("%w: %s: %v", ErrCorrupt, date, err)
	}
	if issues := recordSchema.Validate(&rec); len(issues) > 0 {
		return fresh, fmt.Errorf("%w: %s: %s", ErrCorrupt, date, describe(issues))
	}
	if rec.SessionDate != date {
		return fresh, fmt.Errorf("%w: %s: file holds session %s", ErrCorrupt, date, rec.SessionDate)
	}
	st, err := s.fromRecord(rec)
	if err != nil {
		return fresh, fmt.Errorf("%w: %s: %v", ErrCorrupt, date, err)
	}
	return st, nil
}

// Save writes st atomically, keeping the previous snapshot as .bak.
func (s *FileStore) Save(st orb.State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	bs, err := json.MarshalIndent(toRecord(st), "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	path := s.Path(st.SessionDate)
	// best-effort .bak of the last good snapshot
	if prev, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", prev, 0o644)
	}
	if err := WriteFileAtomic(path, bs, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", st.SessionDate, err)
	}
	return nil
}

func toRecord(st orb.State) record {
	rec := record{
		SessionDate:   st.SessionDate,
		TradeExecuted: st.TradeExecuted,
		TradeOpen:     st.TradeOpen,
		BETriggered:   st.BETriggered,
	}
	if st.Direction != orb.Flat {
		d := string(st.Direction)
		rec.Direction = &d
	}
	if st.HasEntry() {
		et := st.EntryTime.Format(time.RFC3339)
		ep, sp := st.EntryPrice, st.StopPrice
		rec.EntryTime, rec.EntryPrice, rec.StopPrice = &et, &ep, &sp
	}
	if st.TradeOpen {
		wm := st.Watermark
		rec.WatermarkPrice = &wm
	}
	if !st.LastProcessed.IsZero() {
		lp := st.LastProcessed.Format(time.RFC3339)
		rec.LastProcessedTS = &lp
	}
	return rec
}

func (s *FileStore) fromRecord(rec record) (orb.State, error) {
	st := orb.State{
		SessionDate:   rec.SessionDate,
		TradeExecuted: rec.TradeExecuted,
		TradeOpen:     rec.TradeOpen,
		BETriggered:   rec.BETriggered,
	}
	if rec.Direction != nil {
		st.Direction = orb.Direction(*rec.Direction)
	}
	if rec.EntryTime != nil {
		et, err := ParseTimestamp(*rec.EntryTime, s.loc)
		if err != nil {
			return orb.State{}, fmt.Errorf("entry_time: %w", err)
		}
		st.EntryTime = et
	}
	if rec.EntryPrice != nil {
		st.EntryPrice = *rec.EntryPrice
	}
	if rec.StopPrice != nil {
		st.StopPrice = *rec.StopPrice
	}
	if rec.WatermarkPrice != nil && rec.TradeOpen {
		st.Watermark = *rec.WatermarkPrice
	}
	if rec.LastProcessedTS != nil {
		lp, err := ParseTimestamp(*rec.LastProcessedTS, s.loc)
		if err != nil {
			// replay from session open; entry/exit flags keep this safe
			log.Warn().Str("component", "store").Str("session_date", rec.SessionDate).
				Str("last_processed_ts", *rec.LastProcessedTS).Err(err).
				Msg("unparseable high-water mark, replaying from session open")
		} else {
			st.LastProcessed = lp
		}
	}
	return st, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp reads RFC3339 (with or without fractional seconds, or a
// space separator). Naive timestamps are taken as local to loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

func describe(issues z.ZogIssueMap) string {
	keys := make([]string, 0, len(issues))
	for k := range issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, iss := range issues[k] {
			parts = append(parts, k+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}
