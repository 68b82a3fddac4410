package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raterudder/wattwindow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("EmptyZone", func(t *testing.T) {
		_, err := f.GetPrices(ctx, PriceQuery{})
		assert.ErrorContains(t, err, "zone cannot be empty")
	})

	t.Run("Prices", func(t *testing.T) {
		t0 := time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC)
		require.NoError(t, f.UpsertPrices(ctx, []types.PriceObservation{
			{Timestamp: t0, Zone: "N.Y.C.", Value: 10, Source: types.SourceDayAhead},
			{Timestamp: t0, Zone: "N.Y.C.", Value: 11, Source: types.SourceRealTime},
			{Timestamp: t0.Add(time.Hour), Zone: "N.Y.C.", Value: 12, Source: types.SourceDayAhead},
		}))
		// same key again replaces the value
		require.NoError(t, f.UpsertPrices(ctx, []types.PriceObservation{
			{Timestamp: t0, Zone: "N.Y.C.", Value: 20, Source: types.SourceDayAhead},
		}))

		prices, err := f.GetPrices(ctx, PriceQuery{Zone: "N.Y.C.", Start: t0, End: t0.Add(time.Hour)})
		require.NoError(t, err)
		require.Len(t, prices, 3)
		assert.Equal(t, 20.0, prices[0].Value)

		prices, err = f.GetPrices(ctx, PriceQuery{Zone: "N.Y.C.", Source: types.SourceDayAhead, Start: t0})
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.True(t, prices[1].Timestamp.Equal(t0.Add(time.Hour)))
	})

	t.Run("Windows", func(t *testing.T) {
		dayStart := time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)
		w := func(h int, label types.Label, gen string) types.PriceWindow {
			start := dayStart.Add(time.Duration(h) * time.Hour)
			return types.PriceWindow{StartTime: start, EndTime: start, Label: label, AvgPrice: 10.456, DurationMinutes: 60, Generation: gen}
		}

		require.NoError(t, f.ReplaceWindows(ctx, "N.Y.C.", dayStart, dayStart, dayEnd, []types.PriceWindow{
			w(0, types.LabelGreat, "gen-1"), w(1, types.LabelAvoid, "gen-1"),
		}))
		require.NoError(t, f.ReplaceWindows(ctx, "N.Y.C.", dayStart, dayStart, dayEnd, []types.PriceWindow{
			w(0, types.LabelGood, "gen-2"),
		}))

		windows, err := f.GetWindows(ctx, "N.Y.C.", dayStart, dayEnd)
		require.NoError(t, err)
		require.Len(t, windows, 1)
		assert.Equal(t, types.LabelGood, windows[0].Label)
		assert.Equal(t, 10.46, windows[0].AvgPrice)
		assert.Equal(t, "gen-2", windows[0].Generation)
	})

	t.Run("Windows_Concurrent", func(t *testing.T) {
		dayStart := time.Date(2024, 7, 2, 5, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)
		rebuild := func(gen string) []types.PriceWindow {
			var windows []types.PriceWindow
			for h := 0; h < 24; h += 8 {
				start := dayStart.Add(time.Duration(h) * time.Hour)
				windows = append(windows, types.PriceWindow{StartTime: start, EndTime: start.Add(7 * time.Hour), Label: types.LabelOkay, AvgPrice: 30, DurationMinutes: 480, Generation: gen})
			}
			return windows
		}

		var g errgroup.Group
		for i := 0; i < 3; i++ {
			gen := fmt.Sprintf("race-%d", i)
			g.Go(func() error {
				return f.ReplaceWindows(ctx, "LONGIL", dayStart, dayStart, dayEnd, rebuild(gen))
			})
		}
		require.NoError(t, g.Wait())

		windows, err := f.GetWindows(ctx, "LONGIL", dayStart, dayEnd)
		require.NoError(t, err)
		require.Len(t, windows, 3)
		for _, w := range windows {
			assert.Equal(t, windows[0].Generation, w.Generation)
		}
	})
}
