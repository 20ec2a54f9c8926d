// FILE: source.go
// Package market - Source abstraction shared by all bar backends.
//
// Three implementations:
//   - yahoo.go  - HTTP client for the Yahoo chart API (live data, delayed)
//   - csv.go    - local CSV file (replays and offline runs)
//   - cache.go  - TTL cache in front of another Source (live loop)
package market

import (
	"context"
	"errors"
)

// ErrNoData is returned when a source has nothing for the symbol.
var ErrNoData = errors.New("market: no data")

// Source is the minimal surface the runner needs: recent minute bars
// covering at least yesterday and today.
type Source interface {
	Name() string
	Bars(ctx context.Context, symbol string) ([]Bar, error)
}
