package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/storage"
	"github.com/raterudder/wattwindow/pkg/types"
)

// ComputeBreakpoints returns the nearest-rank 25th/50th/75th percentiles of
// values, sorted[floor(n*q)] clamped to the last index. An empty sample
// returns defaults.
func ComputeBreakpoints(zone string, values []float64, defaults types.Breakpoints) types.Breakpoints {
	if len(values) == 0 {
		defaults.Zone = zone
		return defaults
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return types.Breakpoints{
		Zone: zone,
		P25:  nearestRank(sorted, 0.25),
		P50:  nearestRank(sorted, 0.50),
		P75:  nearestRank(sorted, 0.75),
	}
}

func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PriceHistory reads persisted price observations.
type PriceHistory interface {
	GetPrices(ctx context.Context, q storage.PriceQuery) ([]types.PriceObservation, error)
}

// Classifier computes breakpoints from a zone's stored price history.
type Classifier struct {
	cfg     Config
	history PriceHistory
}

// NewClassifier creates a Classifier reading from history.
func NewClassifier(cfg Config, history PriceHistory) *Classifier {
	return &Classifier{cfg: cfg, history: history}
}

// Breakpoints returns the percentiles of the stored observations for zone
// from lookbackDays before now onward. Each local day in loc contributes only
// its best source. A lookbackDays of 0 uses the configured default.
func (c *Classifier) Breakpoints(ctx context.Context, zone string, loc *time.Location, lookbackDays int, now time.Time) (types.Breakpoints, error) {
	if lookbackDays <= 0 {
		lookbackDays = c.cfg.LookbackDays
	}
	prices, err := c.history.GetPrices(ctx, storage.PriceQuery{
		Zone:  zone,
		Start: now.AddDate(0, 0, -lookbackDays),
	})
	if err != nil {
		return types.Breakpoints{}, fmt.Errorf("failed to get price history: %w", err)
	}

	prices = types.BestSeriesByDay(prices, loc)
	values := make([]float64, 0, len(prices))
	for _, p := range prices {
		values = append(values, p.Value)
	}
	bp := ComputeBreakpoints(zone, values, c.cfg.DefaultBreakpoints)
	if len(values) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no price history, using default breakpoints", slog.String("zone", zone))
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"computed breakpoints",
		slog.String("zone", zone),
		slog.Int("samples", len(values)),
		slog.Float64("p25", bp.P25),
		slog.Float64("p50", bp.P50),
		slog.Float64("p75", bp.P75),
	)
	return bp, nil
}
