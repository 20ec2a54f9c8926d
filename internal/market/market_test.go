package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

const chartBody = `{"chart":{"result":[{"timestamp":[1741787460,1741787400,1741787520,1741787580],
"indicators":{"quote":[{
"open":[101,100,null,103],
"high":[102,101,null,104],
"low":[100,99,null,102],
"close":[101.5,100.5,null,103.5],
"volume":[10,null,0,30]}]}}],"error":null}}`

func TestYahooSourceParsesChart(t *testing.T) {
	var gotPath, gotInterval, gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		gotRange = r.URL.Query().Get("range")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	loc := nyLoc(t)
	bars, err := NewYahooSource(srv.URL, 5*time.Second, "", loc).Bars(context.Background(), "NQ=F")
	require.NoError(t, err)
	assert.Equal(t, "/NQ=F", gotPath)
	assert.Equal(t, "1m", gotInterval)
	assert.Equal(t, "2d", gotRange)

	// null row dropped, sorted ascending
	require.Len(t, bars, 3)
	assert.True(t, time.Date(2025, 3, 12, 9, 50, 0, 0, loc).Equal(bars[0].Time))
	assert.Equal(t, loc, bars[0].Time.Location())
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Zero(t, bars[0].Volume)
	assert.Equal(t, 101.5, bars[1].Close)
	assert.Equal(t, 30.0, bars[2].Volume)
}

func TestYahooSourceErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		noData bool
	}{
		{"http error", http.StatusTooManyRequests, `{}`, false},
		{"chart error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, false},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, true},
		{"all null", http.StatusOK, `{"chart":{"result":[{"timestamp":[1],"indicators":{"quote":[{"open":[null],"high":[null],"low":[null],"close":[null]}]}}]}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewYahooSource(srv.URL, 5*time.Second, "2d", time.UTC).Bars(context.Background(), "NQ=F")
			require.Error(t, err)
			assert.Equal(t, tc.noData, errors.Is(err, ErrNoData))
		})
	}
}

func TestReadCSV(t *testing.T) {
	loc := nyLoc(t)
	in := `Timestamp,Open,High,Low,Close,Volume
2025-03-12T09:31:00-04:00,2,3,1,2.5,7
1741786200,1,2,0.5,1.5,5
not-a-time,1,1,1,1,1
2025-03-12T09:31:00-04:00,2,3,1,2.75,8
2025-03-12T09:32:00-04:00,,3,1,,1
`
	bars, err := ReadCSV(strings.NewReader(in), loc)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, time.Date(2025, 3, 12, 9, 30, 0, 0, loc).Equal(bars[0].Time))
	assert.Equal(t, 1.5, bars[0].Close)
	assert.Equal(t, 2.75, bars[1].Close, "duplicate timestamp: last row wins")
	assert.Equal(t, 8.0, bars[1].Volume)

	// no high/low columns at all: nothing usable
	noHL, err := ReadCSV(strings.NewReader("time,open,close\n2025-03-12T10:00:00-04:00,20000,20010\n"), loc)
	require.NoError(t, err)
	assert.Empty(t, noHL)

	partial := `time,open,high,low,close
2025-03-12T10:00:00-04:00,20000,20015,,20010
2025-03-12T10:01:00-04:00,20010,x,20005,20012
2025-03-12T10:02:00-04:00,20012,20020,20008,20018
`
	kept, err := ReadCSV(strings.NewReader(partial), loc)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, 20008.0, kept[0].Low)
	assert.Equal(t, 20020.0, kept[0].High)

	empty, err := ReadCSV(strings.NewReader(""), loc)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSVSource(t.TempDir()+"/nope.csv", nil).Bars(context.Background(), "NQ=F")
	assert.Error(t, err)
}

func minuteBars(start time.Time, n int) []Bar {
	out := make([]Bar, n)
	for i := range out {
		out[i] = Bar{Time: start.Add(time.Duration(i) * time.Minute), Close: float64(i)}
	}
	return out
}

func TestFilters(t *testing.T) {
	loc := nyLoc(t)
	// 23:58 on the 11th through 00:02 on the 12th
	bars := minuteBars(time.Date(2025, 3, 11, 23, 58, 0, 0, loc), 5)

	today := OnDay(bars, time.Date(2025, 3, 12, 15, 0, 0, 0, loc), loc)
	require.Len(t, today, 3)
	assert.Equal(t, 2.0, today[0].Close)

	// the same instant seen from UTC is still the 12th in New York
	utcDay := OnDay(bars, time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC), loc)
	assert.Len(t, utcDay, 3)

	mid := bars[2].Time
	assert.Len(t, After(bars, mid), 2)
	assert.Len(t, From(bars, mid), 3)
	assert.Len(t, After(bars, time.Time{}), 5)
	assert.Empty(t, After(bars, bars[4].Time))

	btw := Between(bars, bars[1].Time, bars[3].Time)
	require.Len(t, btw, 3)
	assert.Equal(t, 1.0, btw[0].Close)
	assert.Equal(t, 3.0, btw[2].Close)
}

type countingSource struct {
	calls int
	err   error
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) Bars(context.Context, string) ([]Bar, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return minuteBars(time.Unix(0, 0), 2), nil
}

func TestCachedSource(t *testing.T) {
	inner := &countingSource{}
	src := NewCachedSource(inner, time.Minute)
	assert.Equal(t, "counting+cache", src.Name())

	for i := 0; i < 3; i++ {
		bars, err := src.Bars(context.Background(), "NQ=F")
		require.NoError(t, err)
		assert.Len(t, bars, 2)
	}
	assert.Equal(t, 1, inner.calls)

	_, err := src.Bars(context.Background(), "ES=F")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "cache is per symbol")

	src.Invalidate("NQ=F")
	_, err = src.Bars(context.Background(), "NQ=F")
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	inner := &countingSource{err: errors.New("boom")}
	src := NewCachedSource(inner, time.Minute)
	_, err := src.Bars(context.Background(), "NQ=F")
	require.Error(t, err)
	_, err = src.Bars(context.Background(), "NQ=F")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestWriteCSVReadsBack(t *testing.T) {
	loc := nyLoc(t)
	in := []Bar{
		{Time: time.Date(2025, 3, 12, 9, 30, 0, 0, loc), Open: 1, High: 2.25, Low: 0.5, Close: 1.75, Volume: 12},
		{Time: time.Date(2025, 3, 12, 9, 31, 0, 0, loc), Open: 1.75, High: 2, Low: 1, Close: 1.5},
	}
	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), "time,open,high,low,close,volume\n2025-03-12T09:30:00-04:00,1,2.25,0.5,1.75,12\n"))

	out, err := ReadCSV(strings.NewReader(buf.String()), loc)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.True(t, in[i].Time.Equal(out[i].Time))
		assert.Equal(t, in[i].Close, out[i].Close)
		assert.Equal(t, in[i].Volume, out[i].Volume)
	}
}
