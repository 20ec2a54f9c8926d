// FILE: main.go
// Package main – Program entrypoint and HTTP/metrics server.
//
// Boot sequence:
//   1) config.Load()               – read .env (non-overriding) + env, validate
//   2) initLogging()               – zerolog level and writer from LOG_LEVEL / LOG_PRETTY
//   3) take the run lock in REPORTS_DIR (refreshed on every live pass)
//   4) wire source/store/recorder/exporter into a runner
//   5) one pass (default) or the live loop with /metrics and /healthz on cfg.Port
//
// Flags:
//   -live             Run the evaluator every -interval seconds until SIGINT/SIGTERM
//   -interval <sec>   Live loop interval in seconds (default 60)
//   -csv <path>       Read bars from a CSV file instead of Yahoo
//   -now <RFC3339>    Pin the clock (replays against a CSV)
//
// Example:
//   go run ./cmd/orb -csv data/nq_2025-03-12.csv -now 2025-03-12T16:05:00-04:00
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/metrics"
	"github.com/chidi150c/orbnq/internal/report"
	"github.com/chidi150c/orbnq/internal/runner"
	"github.com/chidi150c/orbnq/internal/store"
)

// A lock not refreshed for this long, whose pid is gone, is left over from a
// crashed run.
const staleLock = 10 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// ---- Flags ----
	var live bool
	var intervalSec int
	var csvPath, nowFlag string
	flag.BoolVar(&live, "live", false, "Run the evaluator in a loop")
	flag.IntVar(&intervalSec, "interval", 60, "Live loop interval in seconds")
	flag.StringVar(&csvPath, "csv", "", "Path to CSV bars (time,open,high,low,close,volume)")
	flag.StringVar(&nowFlag, "now", "", "Fixed clock, RFC3339 (replays)")
	flag.Parse()

	// ---- Environment & Config ----
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return 2
	}
	initLogging(cfg)
	loc, _ := cfg.Location()

	var opts []runner.Option
	if nowFlag != "" {
		fixed, err := time.Parse(time.RFC3339, nowFlag)
		if err != nil {
			log.Error().Err(err).Str("now", nowFlag).Msg("bad -now")
			return 2
		}
		opts = append(opts, runner.WithNow(func() time.Time { return fixed }))
	}

	// ---- Source wiring ----
	var src market.Source
	if csvPath != "" {
		src = market.NewCSVSource(csvPath, loc)
	} else {
		src = market.NewYahooSource(cfg.YahooBaseURL, cfg.FetchTimeout, cfg.FetchRange, loc)
	}
	if live && cfg.BarCacheTTL > 0 {
		src = market.NewCachedSource(src, cfg.BarCacheTTL)
	}

	// ---- Run lock ----
	lock, err := store.Lock(cfg.ReportsDir, staleLock)
	if errors.Is(err, store.ErrLocked) && !live {
		log.Info().Str("dir", cfg.ReportsDir).Msg("another run holds the lock, skipping")
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("run lock")
		return 1
	}
	defer lock.Release()
	opts = append(opts, runner.WithHeartbeat(lock))

	r, err := runner.New(cfg, src,
		store.NewFileStore(cfg.ReportsDir, loc),
		report.NewFileRecorder(cfg.ReportsDir, cfg.SummaryWindow),
		report.NewWriter(cfg.ReportsDir),
		opts...)
	if err != nil {
		log.Error().Err(err).Msg("runner")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !live {
		if _, err := r.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("run failed")
			return 1
		}
		return 0
	}

	// ---- HTTP metrics/health ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.Port).Msg("serving metrics on /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
			cancel()
		}
	}()

	code := 0
	if err := r.Live(ctx, time.Duration(intervalSec)*time.Second); err != nil {
		code = 1
	}

	// ---- Graceful shutdown for HTTP server ----
	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
	return code
}

func initLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
