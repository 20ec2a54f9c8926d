// FILE: metrics.go
// Package metrics – Prometheus metrics for observability.
//
// Exposes the metrics the runner updates on every invocation:
//   • orb_runs_total{status}                  – Invocations by snapshot status
//   • orb_trades_total{direction,result}      – Completed trades (win|loss)
//   • orb_exit_reasons_total{reason,direction} – Exits split by rule and side
//   • orb_bars_processed_total                – Bars folded into session state
//   • orb_session_pnl_usd                     – Realized + unrealized P&L of today
//   • orb_fetch_errors_total                  – Failed or empty bar fetches
//   • orb_export_errors_total                 – Failed best-effort exports
//
// These are registered in init() and served by the HTTP handler started in
// cmd/orb at /metrics (Prometheus text exposition format).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_runs_total",
			Help: "Evaluator invocations by resulting status",
		},
		[]string{"status"},
	)

	// result: win|loss (flat trades count as loss)
	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_trades_total",
			Help: "Completed trades by direction and result",
		},
		[]string{"direction", "result"},
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_exit_reasons_total",
			Help: "Total exits split by reason and direction",
		},
		[]string{"reason", "direction"},
	)

	mtxBars = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orb_bars_processed_total",
			Help: "Bars folded into session state",
		},
	)

	mtxSessionPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orb_session_pnl_usd",
			Help: "Realized plus unrealized P&L of the current session in USD",
		},
	)

	mtxFetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orb_fetch_errors_total",
			Help: "Bar fetches that failed or returned nothing",
		},
	)

	mtxExportErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orb_export_errors_total",
			Help: "Best-effort exports (intraday chart, trade log) that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxRuns, mtxTrades, mtxExitReasons)
	prometheus.MustRegister(mtxBars, mtxSessionPnL)
	prometheus.MustRegister(mtxFetchErrors, mtxExportErrors)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncRun(status string) { mtxRuns.WithLabelValues(status).Inc() }

// ObserveTrade counts a closed trade under both trade and exit-reason series.
func ObserveTrade(direction, reason string, win bool) {
	result := "loss"
	if win {
		result = "win"
	}
	mtxTrades.WithLabelValues(direction, result).Inc()
	mtxExitReasons.WithLabelValues(reason, direction).Inc()
}

func AddBars(n int) {
	if n > 0 {
		mtxBars.Add(float64(n))
	}
}

func SetSessionPnL(usd float64) { mtxSessionPnL.Set(usd) }
func IncFetchError()            { mtxFetchErrors.Inc() }
func IncExportError()           { mtxExportErrors.Inc() }
