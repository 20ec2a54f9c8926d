// Fetch 1m bars from Yahoo and write CSV for replays.
//
// Usage examples:
//   # Today's and yesterday's NQ bars:
//   go run ./cmd/orbfetch -out data/nq.csv
//
//   # Keep one session only, then replay it:
//   go run ./cmd/orbfetch -range 5d -date 2025-03-12 -out data/nq_2025-03-12.csv
//   go run ./cmd/orb -csv data/nq_2025-03-12.csv -now 2025-03-12T16:05:00-04:00
//
// Notes:
// - SYMBOL, TIMEZONE, YAHOO_BASE_URL and FETCH_TIMEOUT_SEC come from the same
//   env/.env as the evaluator; -symbol and -range override them.
// - The CSV header is: time,open,high,low,close,volume (what cmd/orb -csv reads).
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
)

func main() {
	var (
		symbol    = flag.String("symbol", "", "Yahoo symbol (default SYMBOL)")
		timeRange = flag.String("range", "", "Yahoo range, e.g. 2d or 5d (default FETCH_RANGE)")
		date      = flag.String("date", "", "Keep only this session date (YYYY-MM-DD)")
		outPath   = flag.String("out", "data/nq.csv", "Output CSV path")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if *symbol == "" {
		*symbol = cfg.Symbol
	}
	if *timeRange == "" {
		*timeRange = cfg.FetchRange
	}
	loc, _ := cfg.Location()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout+5*time.Second)
	defer cancel()
	bars, err := market.NewYahooSource(cfg.YahooBaseURL, cfg.FetchTimeout, *timeRange, loc).Bars(ctx, *symbol)
	if err != nil {
		log.Fatal().Err(err).Str("symbol", *symbol).Msg("fetch")
	}
	if *date != "" {
		day, err := time.ParseInLocation(time.DateOnly, *date, loc)
		if err != nil {
			log.Fatal().Err(err).Msg("bad -date")
		}
		bars = market.OnDay(bars, day, loc)
	}
	if len(bars) == 0 {
		log.Fatal().Str("symbol", *symbol).Msg("no bars to write")
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("mkdir")
	}
	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatal().Err(err).Msg("create")
	}
	defer f.Close()
	if err := market.WriteCSV(f, bars); err != nil {
		log.Fatal().Err(err).Msg("write csv")
	}
	log.Info().Str("out", *outPath).Int("rows", len(bars)).
		Time("first", bars[0].Time).Time("last", bars[len(bars)-1].Time).Msg("wrote bars")
}
