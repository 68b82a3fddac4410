package storage

import (
	"context"
	"time"

	"github.com/raterudder/wattwindow/pkg/types"
)

// PriceQuery selects stored price observations.
type PriceQuery struct {
	Zone string
	// Source limits results to one source tier. Empty means every source.
	Source types.Source
	// Start and End bound the timestamp inclusively. A zero End is unbounded.
	Start time.Time
	End   time.Time
}

// Database persists price observations and the windows built from them.
type Database interface {
	// UpsertPrices adds or replaces observations keyed by (timestamp, zone,
	// source).
	UpsertPrices(ctx context.Context, prices []types.PriceObservation) error
	// GetPrices returns matching observations ordered by timestamp.
	GetPrices(ctx context.Context, q PriceQuery) ([]types.PriceObservation, error)

	// ReplaceWindows swaps in a rebuilt set of windows for zone. Windows
	// starting before staleBefore or between dayStart and dayEnd are removed
	// and windows are added, and readers see either the old set or the new
	// one.
	ReplaceWindows(ctx context.Context, zone string, staleBefore, dayStart, dayEnd time.Time, windows []types.PriceWindow) error
	// GetWindows returns the current windows starting between start and end
	// inclusive, ordered by start time.
	GetWindows(ctx context.Context, zone string, start, end time.Time) ([]types.PriceWindow, error)

	// Close releases the underlying connection.
	Close() error
}

// replacedWindow reports whether w is removed by a ReplaceWindows call with
// the given bounds.
func replacedWindow(w types.PriceWindow, staleBefore, dayStart, dayEnd time.Time) bool {
	if w.StartTime.Before(staleBefore) {
		return true
	}
	return !w.StartTime.Before(dayStart) && !w.StartTime.After(dayEnd)
}
