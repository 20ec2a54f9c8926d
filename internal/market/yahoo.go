// FILE: yahoo.go
// Package market - Yahoo chart API source.
//
// GET {base}/{symbol}?range=2d&interval=1m returns parallel arrays of
// timestamps and OHLCV quotes. Rows with any null price are dropped (Yahoo
// emits them for minutes without trades). Timestamps are epoch seconds and are
// converted to the configured exchange location.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Yahoo starts refusing anonymous chart calls well above this.
const yahooRequestsPerSecond = 1

type yahooChartResponse struct {
	Chart struct {
		Result []yahooResult `json:"result"`
		Error  *yahooError   `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []yahooQuote `json:"quote"`
	} `json:"indicators"`
}

type yahooQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

// YahooSource fetches 1m bars from the Yahoo chart API.
type YahooSource struct {
	client    *resty.Client
	limiter   *rate.Limiter
	loc       *time.Location
	timeRange string
}

// NewYahooSource builds a source against baseURL. timeRange is Yahoo's
// "range" parameter ("2d" covers yesterday and today).
func NewYahooSource(baseURL string, timeout time.Duration, timeRange string, loc *time.Location) *YahooSource {
	if timeRange == "" {
		timeRange = "2d"
	}
	if loc == nil {
		loc = time.UTC
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		})
	return &YahooSource{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(yahooRequestsPerSecond), 3),
		loc:       loc,
		timeRange: timeRange,
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

// Bars returns ErrNoData when Yahoo answers successfully with no usable rows.
func (y *YahooSource) Bars(ctx context.Context, symbol string) ([]Bar, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	var chart yahooChartResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"range":          y.timeRange,
			"interval":       "1m",
			"includePrePost": "false",
		}).
		SetResult(&chart).
		Get("/{symbol}")
	if err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("yahoo %s: status %d", symbol, resp.StatusCode())
	}
	if e := chart.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo %s: %s: %s", symbol, e.Code, e.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, ErrNoData
	}

	res := chart.Chart.Result[0]
	q := res.Indicators.Quote[0]
	bars := make([]Bar, 0, len(res.Timestamp))
	dropped := 0
	for i, ts := range res.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			dropped++
			continue
		}
		var v float64
		if pv := at(q.Volume, i); pv != nil {
			v = *pv
		}
		bars = append(bars, Bar{
			Time:   time.Unix(ts, 0).In(y.loc),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
			Volume: v,
		})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	log.Debug().Str("component", "market").Str("symbol", symbol).
		Int("bars", len(bars)).Int("dropped", dropped).Msg("yahoo bars")
	return normalize(bars), nil
}

func at(xs []*float64, i int) *float64 {
	if i < 0 || i >= len(xs) {
		return nil
	}
	return xs[i]
}
