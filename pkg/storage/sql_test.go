package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/raterudder/wattwindow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestSQLite(t *testing.T) *SQLProvider {
	t.Helper()
	p := NewSQLite(":memory:")
	require.NoError(t, p.Validate())
	require.NoError(t, p.Init(context.Background()))
	t.Cleanup(func() {
		p.Close()
	})
	return p
}

func TestSQLProvider_Rebind(t *testing.T) {
	pg := NewPostgres("postgres://localhost/test")
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d >= $2", pg.rebind("SELECT a FROM b WHERE c = ? AND d >= ?"))

	lite := NewSQLite(":memory:")
	assert.Equal(t, "SELECT a FROM b WHERE c = ?", lite.rebind("SELECT a FROM b WHERE c = ?"))

	assert.Error(t, NewSQLite("").Validate())
}

func TestSQLProvider_Prices(t *testing.T) {
	ctx := context.Background()
	p := newTestSQLite(t)
	t0 := time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC)

	t.Run("Idempotent_Upsert", func(t *testing.T) {
		require.NoError(t, p.UpsertPrices(ctx, []types.PriceObservation{
			{Timestamp: t0, Zone: "N.Y.C.", Value: 10, Source: types.SourceDayAhead},
		}))
		require.NoError(t, p.UpsertPrices(ctx, []types.PriceObservation{
			{Timestamp: t0, Zone: "N.Y.C.", Value: 42.5, Source: types.SourceDayAhead},
		}))

		prices, err := p.GetPrices(ctx, PriceQuery{Zone: "N.Y.C.", Start: t0, End: t0})
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.Equal(t, 42.5, prices[0].Value)
		assert.True(t, prices[0].Timestamp.Equal(t0))
		assert.Equal(t, types.SourceDayAhead, prices[0].Source)
	})

	t.Run("Sources_Are_Separate_Rows", func(t *testing.T) {
		require.NoError(t, p.UpsertPrices(ctx, []types.PriceObservation{
			{Timestamp: t0, Zone: "N.Y.C.", Value: 11, Source: types.SourceRealTime},
			{Timestamp: t0.Add(time.Hour), Zone: "N.Y.C.", Value: 12, Source: types.SourceDayAhead},
			{Timestamp: t0, Zone: "LONGIL", Value: 99, Source: types.SourceDayAhead},
		}))

		prices, err := p.GetPrices(ctx, PriceQuery{Zone: "N.Y.C.", Start: t0})
		require.NoError(t, err)
		require.Len(t, prices, 3)
		assert.Equal(t, types.SourceDayAhead, prices[0].Source)
		assert.Equal(t, types.SourceRealTime, prices[1].Source)
		assert.Equal(t, 12.0, prices[2].Value)

		prices, err = p.GetPrices(ctx, PriceQuery{Zone: "N.Y.C.", Source: types.SourceRealTime, Start: t0})
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.Equal(t, 11.0, prices[0].Value)
	})

	t.Run("Invalid_Observation", func(t *testing.T) {
		err := p.UpsertPrices(ctx, []types.PriceObservation{{Timestamp: t0, Zone: "N.Y.C.", Source: "bogus"}})
		assert.ErrorContains(t, err, "invalid price observation")
	})
}

func TestSQLProvider_ReplaceWindows(t *testing.T) {
	ctx := context.Background()
	p := newTestSQLite(t)

	day1 := time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	day3 := day2.Add(24 * time.Hour)
	w := func(start time.Time, label types.Label, avg float64, gen string) types.PriceWindow {
		return types.PriceWindow{
			StartTime:       start,
			EndTime:         start.Add(time.Hour),
			Zone:            "N.Y.C.",
			Label:           label,
			AvgPrice:        avg,
			Percentile:      12,
			DurationMinutes: 120,
			Generation:      gen,
		}
	}
	dayEnd := func(start time.Time) time.Time {
		return start.Add(24*time.Hour - time.Millisecond)
	}

	require.NoError(t, p.ReplaceWindows(ctx, "N.Y.C.", day1, day1, dayEnd(day1), []types.PriceWindow{
		w(day1, types.LabelGreat, 10, "a"),
		w(day1.Add(2*time.Hour), types.LabelAvoid, 50, "a"),
	}))
	require.NoError(t, p.ReplaceWindows(ctx, "N.Y.C.", day1, day3, dayEnd(day3), []types.PriceWindow{
		w(day3, types.LabelGood, 20, "b"),
	}))

	windows, err := p.GetWindows(ctx, "N.Y.C.", day1, dayEnd(day3))
	require.NoError(t, err)
	require.Len(t, windows, 3)

	// rebuilding day2 as "today" drops day1 as stale and keeps day3
	require.NoError(t, p.ReplaceWindows(ctx, "N.Y.C.", day2, day2, dayEnd(day2), []types.PriceWindow{
		w(day2, types.LabelGreat, 10.456, "c"),
		w(day2.Add(3*time.Hour), types.LabelOkay, 30.001, "c"),
	}))

	windows, err = p.GetWindows(ctx, "N.Y.C.", day1, dayEnd(day3))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.True(t, windows[0].StartTime.Equal(day2))
	assert.Equal(t, 10.46, windows[0].AvgPrice, "avg price rounded on persist")
	assert.Equal(t, 30.0, windows[1].AvgPrice)
	assert.Equal(t, "c", windows[0].Generation)
	assert.Equal(t, types.LabelGood, windows[2].Label)
	assert.Equal(t, 120, windows[2].DurationMinutes)
	assert.True(t, windows[2].EndTime.Equal(day3.Add(time.Hour)))

	windows, err = p.GetWindows(ctx, "N.Y.C.", day2, dayEnd(day2))
	require.NoError(t, err)
	assert.Len(t, windows, 2)

	windows, err = p.GetWindows(ctx, "LONGIL", day1, dayEnd(day3))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestSQLProvider_ReplaceWindows_Concurrent(t *testing.T) {
	ctx := context.Background()
	p := newTestSQLite(t)

	dayStart := time.Date(2024, 7, 2, 5, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)
	rebuild := func(gen string) []types.PriceWindow {
		var windows []types.PriceWindow
		for h := 0; h < 24; h += 6 {
			start := dayStart.Add(time.Duration(h) * time.Hour)
			windows = append(windows, types.PriceWindow{
				StartTime:       start,
				EndTime:         start.Add(5 * time.Hour),
				Zone:            "N.Y.C.",
				Label:           types.LabelGood,
				AvgPrice:        20,
				Percentile:      35,
				DurationMinutes: 360,
				Generation:      gen,
			})
		}
		return windows
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		gen := fmt.Sprintf("gen-%d", i)
		g.Go(func() error {
			return p.ReplaceWindows(ctx, "N.Y.C.", dayStart, dayStart, dayEnd, rebuild(gen))
		})
	}
	require.NoError(t, g.Wait())

	windows, err := p.GetWindows(ctx, "N.Y.C.", dayStart, dayEnd)
	require.NoError(t, err)
	require.Len(t, windows, 4)

	var current string
	require.NoError(t, p.db.QueryRowContext(ctx, `SELECT generation FROM zone_windows WHERE zone = ?`, "N.Y.C.").Scan(&current))
	for _, w := range windows {
		assert.Equal(t, current, w.Generation, "windows from a single rebuild")
	}
}
