// FILE: runner.go
// Package runner – One evaluator invocation, and the live loop around it.
//
// RunOnce is the whole data flow for a single pass:
//   1) guard non-trading days          → inactive snapshot, nothing else touched
//   2) fetch bars                      → error/no_data snapshot on failure
//   3) filter to today, load state     → corrupt state falls back to fresh,
//                                        unreadable state aborts the pass
//   4) opening range                   → pre_orb snapshot + state save when not ready
//   5) advance the machine over new bars, settle a missed end-of-day
//   6) save state, then record each closed trade
//   7) write latest.json
//   8) export intraday_today.json (best-effort; failures only logged/counted)
//
// Live repeats RunOnce on a ticker. Invocations never overlap: the loop is
// serial and cmd/orb holds the run lock for the process lifetime, refreshing
// it before each pass.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chidi150c/orbnq/internal/config"
	"github.com/chidi150c/orbnq/internal/market"
	"github.com/chidi150c/orbnq/internal/metrics"
	"github.com/chidi150c/orbnq/internal/orb"
	"github.com/chidi150c/orbnq/internal/report"
	"github.com/chidi150c/orbnq/internal/session"
	"github.com/chidi150c/orbnq/internal/store"
)

// Exporter writes the UI-facing JSON files.
type Exporter interface {
	WriteSnapshot(report.Snapshot) error
	WriteIntraday(report.Intraday) error
}

// Heartbeat is refreshed before every live pass; an error ends the loop.
// cmd/orb passes its *store.RunLock.
type Heartbeat interface {
	Refresh() error
}

// Runner wires one configuration to its collaborators.
type Runner struct {
	cfg      config.Config
	clock    *session.Clock
	source   market.Source
	store    store.Store
	recorder report.Recorder
	exporter Exporter
	now      func() time.Time
	beat     Heartbeat
}

// Option customizes a Runner.
type Option func(*Runner)

// WithNow replaces the wall clock (replays and tests).
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithHeartbeat keeps h alive across Live passes.
func WithHeartbeat(h Heartbeat) Option {
	return func(r *Runner) { r.beat = h }
}

func New(cfg config.Config, src market.Source, st store.Store, rec report.Recorder, exp Exporter, opts ...Option) (*Runner, error) {
	clock, err := session.NewClock(cfg)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		clock:    clock,
		source:   src,
		store:    st,
		recorder: rec,
		exporter: exp,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// RunOnce performs one pass and returns the snapshot it wrote. Expected
// conditions (weekend, holiday, no data, pre-range) are statuses, not errors;
// the error is non-nil only when state could not be read or persisted.
func (r *Runner) RunOnce(ctx context.Context) (report.Snapshot, error) {
	lg := log.With().Str("component", "runner").Str("run_id", uuid.NewString()).Logger()

	loc := r.clock.Location()
	now := r.now().In(loc)
	day := r.clock.Today(now)
	b := r.clock.Boundaries(day)
	lg = lg.With().Str("session_date", b.Date).Logger()

	if ok, reason := r.clock.TradingDay(day); !ok {
		return r.publish(lg, report.Inactive(report.StatusInactive, reason, now)), nil
	}

	all, err := r.source.Bars(ctx, r.cfg.Symbol)
	if err == nil && len(all) == 0 {
		err = market.ErrNoData
	}
	if err != nil {
		metrics.IncFetchError()
		lg.Warn().Err(err).Str("source", r.source.Name()).Msg("bar fetch failed")
		return r.publish(lg, report.Inactive(report.StatusError, report.ReasonNoData, now)), nil
	}

	// bars not yet started at now are ignored (replays feed whole days)
	today := market.Between(market.OnDay(all, day, loc), day, now)

	st, err := r.store.Load(b.Date)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		lg.Warn().Err(err).Msg("state unusable, starting the session fresh")
	case err != nil:
		// the file may still be good; never overwrite it from a fresh state
		lg.Error().Err(err).Msg("state unreadable, run skipped")
		snap := r.publish(lg, report.Inactive(report.StatusError, "state_unreadable", now))
		return snap, fmt.Errorf("runner: %w", err)
	}

	rng, err := orb.RangeFor(today, b)
	if errors.Is(err, orb.ErrRangeNotReady) {
		if err := r.store.Save(st); err != nil {
			return r.failSave(lg, now, err)
		}
		return r.publish(lg, report.Session(report.StatusPreORB, now, b)), nil
	}

	m := orb.NewMachine(r.cfg.Params, b, rng)
	pending := market.After(today, st.LastProcessed)
	if st.LastProcessed.IsZero() {
		pending = market.From(today, b.Open)
	}
	st, trades := m.Advance(st, pending)
	if settled, t := m.Settle(st, today); t != nil {
		st = settled
		trades = append(trades, *t)
	}
	metrics.AddBars(len(pending))

	if err := r.store.Save(st); err != nil {
		return r.failSave(lg, now, err)
	}
	for _, t := range trades {
		r.record(lg, t)
	}

	lastClose := today[len(today)-1].Close
	snap := report.Session(report.StatusActive, now, b)
	snap.OpeningRange = report.NewRangeView(rng, r.cfg.Params.Offset)
	snap.Params = report.NewParamsView(r.cfg.Params)
	snap.Trade = report.NewTradeView(st, lastClose, r.cfg.Params.PointValue)
	if sum, err := r.recorder.Summary(); err != nil {
		lg.Warn().Err(err).Msg("summary unreadable, omitted from snapshot")
	} else {
		snap.Summary = sum
	}
	r.trackPnL(st, trades, snap.Summary, b.Date, lastClose)

	lg.Debug().Int("bars", len(pending)).Str("phase", st.Phase().String()).
		Float64("long_level", snap.OpeningRange.LongLevel).
		Float64("short_level", snap.OpeningRange.ShortLevel).
		Msg("session advanced")
	snap = r.publish(lg, snap)

	if err := r.exporter.WriteIntraday(report.NewIntraday(r.cfg.Symbol, b, today, now)); err != nil {
		metrics.IncExportError()
		lg.Warn().Err(err).Msg("intraday export failed")
	}
	return snap, nil
}

// publish writes latest.json. A failed write is logged and counted; the
// snapshot is still returned to the caller.
func (r *Runner) publish(lg zerolog.Logger, snap report.Snapshot) report.Snapshot {
	metrics.IncRun(snap.Status)
	if err := r.exporter.WriteSnapshot(snap); err != nil {
		metrics.IncExportError()
		lg.Warn().Err(err).Msg("snapshot write failed")
	}
	lg.Info().Str("status", snap.Status).Str("reason", snap.Reason).Msg("run complete")
	return snap
}

func (r *Runner) failSave(lg zerolog.Logger, now time.Time, err error) (report.Snapshot, error) {
	lg.Error().Err(err).Msg("state save failed")
	snap := r.publish(lg, report.Inactive(report.StatusError, "state_unsaved", now))
	return snap, fmt.Errorf("runner: %w", err)
}

// record hands a closed trade to the recorder. The state that closed it is
// already saved, so a recorder failure cannot cause a second emission.
func (r *Runner) record(lg zerolog.Logger, t orb.CompletedTrade) {
	metrics.ObserveTrade(string(t.Direction), string(t.Reason), t.Win())
	lg.Info().
		Str("trade_id", t.ID).
		Str("direction", string(t.Direction)).
		Float64("entry_price", t.EntryPrice).
		Float64("exit_price", t.ExitPrice).
		Float64("pnl_points", t.PnLPoints).
		Float64("pnl_usd", t.PnLUSD).
		Str("exit_reason", string(t.Reason)).
		Msg("[EXIT] trade closed")
	if err := r.recorder.Record(t); err != nil {
		metrics.IncExportError()
		lg.Error().Err(err).Str("trade_id", t.ID).Msg("trade not recorded")
	}
}

// trackPnL sets the session P&L gauge: realized from this run's trade or
// the summary row for today, else the open position marked at lastClose.
func (r *Runner) trackPnL(st orb.State, trades []orb.CompletedTrade, sum *report.Summary, date string, lastClose float64) {
	switch {
	case len(trades) > 0:
		metrics.SetSessionPnL(trades[len(trades)-1].PnLUSD)
	case st.TradeOpen:
		_, usd := st.Unrealized(lastClose, r.cfg.Params.PointValue)
		metrics.SetSessionPnL(usd)
	case st.TradeExecuted && sum != nil:
		for _, row := range sum.Rows {
			if row.Date == date {
				metrics.SetSessionPnL(row.PnLUSD)
			}
		}
	default:
		metrics.SetSessionPnL(0)
	}
}

// Live runs RunOnce now and then every interval until ctx is done. It
// returns an error only when the heartbeat fails.
func (r *Runner) Live(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	lg := log.With().Str("component", "runner").Logger()
	lg.Info().Str("symbol", r.cfg.Symbol).Str("source", r.source.Name()).
		Dur("interval", interval).Msg("[BOOT] live loop starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.beat != nil {
			if err := r.beat.Refresh(); err != nil {
				lg.Error().Err(err).Msg("run lock lost, stopping")
				return err
			}
		}
		if _, err := r.RunOnce(ctx); err != nil {
			lg.Error().Err(err).Msg("run failed")
		}
		select {
		case <-ctx.Done():
			lg.Info().Msg("shutdown")
			return nil
		case <-ticker.C:
		}
	}
}
