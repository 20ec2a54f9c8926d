// FILE: config.go
// Package config - Runtime configuration model and loader.
//
// This file defines Config (every knob the evaluator uses) and Params (the
// strategy constants). Both are plain values: Load builds them once and the
// caller passes them into each component. Nothing here is a package global.
//
// Typical flow (see cmd/orb/main.go):
//
//	cfg, err := config.Load()
//	clock, err := session.NewClock(cfg)
//	machine := orb.Machine{Params: cfg.Params, ...}
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
)

// Params holds the strategy constants, all in price points unless noted.
type Params struct {
	OpeningRange     time.Duration // length of the opening range window
	TradingWindow    time.Duration // from session open; capped at session close
	Offset           float64       // buffer added to ORB high / subtracted from ORB low
	TrailDistance    float64       // trailing stop distance from the watermark
	TakeProfit       float64       // fixed target distance from entry
	BreakevenTrigger float64       // favorable excursion that pulls the stop to entry
	PointValue       float64       // USD per point
}

// DefaultParams returns the NQ defaults.
func DefaultParams() Params {
	return Params{
		OpeningRange:     15 * time.Minute,
		TradingWindow:    390 * time.Minute,
		Offset:           2.0,
		TrailDistance:    15.0,
		TakeProfit:       20.0,
		BreakevenTrigger: 15.0,
		PointValue:       20.0,
	}
}

var paramsSchema = z.Struct(z.Shape{
	"Offset":           z.Float64().GTE(0),
	"TrailDistance":    z.Float64().Required().GT(0),
	"TakeProfit":       z.Float64().Required().GT(0),
	"BreakevenTrigger": z.Float64().GTE(0),
	"PointValue":       z.Float64().Required().GT(0),
}).TestFunc(windowsOrdered)

func windowsOrdered(dataPtr any, ctx z.Ctx) bool {
	p, ok := dataPtr.(*Params)
	if !ok {
		return true
	}
	if p.OpeningRange <= 0 || p.TradingWindow <= p.OpeningRange {
		ctx.AddIssue(&z.ZogIssue{
			Path:    "TradingWindow",
			Message: "opening range must be positive and shorter than the trading window",
		})
		return false
	}
	return true
}

// Validate reports every broken constraint in one error.
func (p Params) Validate() error {
	return issuesToError("params", paramsSchema.Validate(&p))
}

// Config holds all runtime knobs.
type Config struct {
	// Instrument & calendar
	Symbol       string   // Yahoo symbol, e.g. "NQ=F"
	Timezone     string   // exchange-local zone
	SessionOpen  string   // "HH:MM" local
	SessionClose string   // "HH:MM" local
	Holidays     []string // YYYY-MM-DD weekdays with no session

	// Strategy
	Params Params

	// Outputs
	ReportsDir    string
	SummaryWindow int // sessions kept in the rolling summary

	// Market data
	YahooBaseURL string
	FetchRange   string        // Yahoo "range" param; must cover yesterday and today
	FetchTimeout time.Duration // per request
	BarCacheTTL  time.Duration // live mode: reuse a fetch within this TTL

	// Ops
	Port      int
	LogLevel  string
	LogPretty bool
}

// Load hydrates the env from .env (non-overriding) and returns a validated Config.
func Load() (Config, error) {
	loadDotEnv()
	def := DefaultParams()
	cfg := Config{
		Symbol:       getEnv("SYMBOL", "NQ=F"),
		Timezone:     getEnv("TIMEZONE", "America/New_York"),
		SessionOpen:  getEnv("SESSION_OPEN", "09:30"),
		SessionClose: getEnv("SESSION_CLOSE", "16:00"),
		Holidays:     getEnvList("HOLIDAYS"),

		Params: Params{
			OpeningRange:     getEnvMinutes("OPENING_RANGE_MINUTES", int(def.OpeningRange/time.Minute)),
			TradingWindow:    getEnvMinutes("TRADING_WINDOW_MINUTES", int(def.TradingWindow/time.Minute)),
			Offset:           getEnvFloat("OFFSET_POINTS", def.Offset),
			TrailDistance:    getEnvFloat("TRAIL_DISTANCE_POINTS", def.TrailDistance),
			TakeProfit:       getEnvFloat("TAKE_PROFIT_POINTS", def.TakeProfit),
			BreakevenTrigger: getEnvFloat("BREAKEVEN_TRIGGER_POINTS", def.BreakevenTrigger),
			PointValue:       getEnvFloat("POINT_VALUE", def.PointValue),
		},

		ReportsDir:    getEnv("REPORTS_DIR", "opening_range_reports"),
		SummaryWindow: getEnvInt("SUMMARY_WINDOW", 10),

		YahooBaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com/v8/finance/chart"),
		FetchRange:   getEnv("FETCH_RANGE", "2d"),
		FetchTimeout: getEnvSeconds("FETCH_TIMEOUT_SEC", 10),
		BarCacheTTL:  getEnvSeconds("BAR_CACHE_TTL_SEC", 20),

		Port:      getEnvInt("PORT", 8080),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks Params and the calendar fields.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	open, err := ClockOffset(c.SessionOpen)
	if err != nil {
		return fmt.Errorf("config: SESSION_OPEN: %w", err)
	}
	closeAt, err := ClockOffset(c.SessionClose)
	if err != nil {
		return fmt.Errorf("config: SESSION_CLOSE: %w", err)
	}
	if closeAt <= open+c.Params.OpeningRange {
		return fmt.Errorf("config: session close %s must be after the opening range ends", c.SessionClose)
	}
	for _, h := range c.Holidays {
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return fmt.Errorf("config: HOLIDAYS entry %q: %w", h, err)
		}
	}
	if c.SummaryWindow <= 0 {
		return fmt.Errorf("config: SUMMARY_WINDOW must be > 0")
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ClockOffset parses "HH:MM" into an offset from local midnight.
func ClockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func issuesToError(scope string, issues z.ZogIssueMap) error {
	if len(issues) == 0 {
		return nil
	}
	keys := make([]string, 0, len(issues))
	for k := range issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, iss := range issues[k] {
			parts = append(parts, fmt.Sprintf("%s: %s", k, iss.Message))
		}
	}
	return fmt.Errorf("%s: invalid: %s", scope, strings.Join(parts, "; "))
}
