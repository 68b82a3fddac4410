package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/metrics"
	"github.com/raterudder/wattwindow/pkg/notify"
	"github.com/raterudder/wattwindow/pkg/pricing"
	"github.com/raterudder/wattwindow/pkg/storage"
	"github.com/raterudder/wattwindow/pkg/types"
)

// PriceFetcher returns a trading day's prices from the first source that
// has them.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, zone feed.Zone, day time.Time) ([]types.PriceObservation, types.Source, error)
}

// Result summarizes one ingestion cycle.
type Result struct {
	Zone        string
	Day         time.Time
	Prices      int
	Windows     int
	Breakpoints types.Breakpoints
	Source      types.Source
	Generation  string
}

// Ingester fetches a day's prices, stores them and rebuilds that day's
// windows.
type Ingester struct {
	fetcher    PriceFetcher
	db         storage.Database
	classifier *pricing.Classifier
	cfg        pricing.Config
	publisher  notify.Publisher

	now func() time.Time
}

// New creates an Ingester. A nil publisher disables label notifications.
func New(fetcher PriceFetcher, db storage.Database, cfg pricing.Config, publisher notify.Publisher) *Ingester {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	return &Ingester{
		fetcher:    fetcher,
		db:         db,
		classifier: pricing.NewClassifier(cfg, db),
		cfg:        cfg,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Ingest runs one cycle for zone on the trading day containing day:
// fetch, upsert, compute breakpoints, rebuild the day's windows and swap
// them in. Windows from before today are dropped as stale.
func (i *Ingester) Ingest(ctx context.Context, zone feed.Zone, day time.Time) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveIngest(string(res.Source), res.Prices, start, err)
	}()

	ctx = log.WithZone(ctx, zone.ID)
	now := i.now()
	localStart, _ := zone.DayBounds(day)
	// feed rows are stamped in standard time, during daylight time the
	// trading day's last hour falls after local midnight
	dayStart, dayEnd := zone.TradingDayBounds(day)
	res = Result{Zone: zone.ID, Day: localStart}

	prices, source, err := i.fetcher.FetchPrices(ctx, zone, day)
	if err != nil {
		return res, fmt.Errorf("failed to fetch prices: %w", err)
	}
	for j := range prices {
		prices[j].Zone = zone.ID
	}
	res.Source = source
	res.Prices = len(prices)

	if err := i.db.UpsertPrices(ctx, prices); err != nil {
		return res, fmt.Errorf("failed to upsert prices: %w", err)
	}

	bp, err := i.classifier.Breakpoints(ctx, zone.ID, zone.Location, i.cfg.LookbackDays, now)
	if err != nil {
		return res, err
	}
	res.Breakpoints = bp

	// the stored day may hold more than what was just fetched, e.g.
	// day-ahead rows from an earlier run when this one fell back
	stored, err := i.db.GetPrices(ctx, storage.PriceQuery{Zone: zone.ID, Start: dayStart, End: dayEnd})
	if err != nil {
		return res, fmt.Errorf("failed to get prices for day: %w", err)
	}
	series, _ := types.BestSeries(stored)

	windows := pricing.BuildWindows(series, bp)
	res.Generation = uuid.NewString()
	for j := range windows {
		windows[j].Zone = zone.ID
		windows[j].Generation = res.Generation
	}
	res.Windows = len(windows)

	todayStart, _ := zone.DayBounds(now)
	staleBefore := todayStart
	if localStart.Before(staleBefore) {
		// backfilling a past day keeps it until the next regular run
		staleBefore = localStart
	}
	if err := i.db.ReplaceWindows(ctx, zone.ID, staleBefore, dayStart, dayEnd, windows); err != nil {
		return res, fmt.Errorf("failed to replace windows: %w", err)
	}

	counts := make(map[string]int, len(types.Labels))
	labels := make([]string, 0, len(types.Labels))
	for _, l := range types.Labels {
		labels = append(labels, string(l))
	}
	for _, w := range windows {
		counts[string(w.Label)]++
	}
	metrics.SetWindows(zone.ID, counts, labels)

	log.Ctx(ctx).InfoContext(
		ctx,
		"ingested prices",
		slog.String("source", string(source)),
		slog.Time("day", localStart),
		slog.Int("prices", res.Prices),
		slog.Int("windows", res.Windows),
		slog.String("generation", res.Generation),
	)

	i.publishCurrent(ctx, zone, series, windows, bp, now)
	return res, nil
}

// publishCurrent announces the label of the latest observation at or before
// now, if the rebuilt day contains now. Failures are only logged.
func (i *Ingester) publishCurrent(ctx context.Context, zone feed.Zone, series []types.PriceObservation, windows []types.PriceWindow, bp types.Breakpoints, now time.Time) {
	var current *types.PriceObservation
	for j := range series {
		if series[j].Timestamp.After(now) {
			break
		}
		current = &series[j]
	}
	if current == nil {
		return
	}
	dayStart, dayEnd := zone.DayBounds(now)
	if current.Timestamp.Before(dayStart) || current.Timestamp.After(dayEnd) {
		return
	}

	msg := notify.LabelMessage{
		Zone:      zone.ID,
		Timestamp: current.Timestamp,
		Price:     current.Value,
		Label:     bp.Classify(current.Value),
	}
	for j := range windows {
		w := windows[j]
		if !current.Timestamp.Before(w.StartTime) && !current.Timestamp.After(w.EndTime) {
			w.AvgPrice = types.RoundPrice(w.AvgPrice)
			msg.Window = &w
			break
		}
	}
	if err := i.publisher.PublishLabel(ctx, msg); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish current label", slog.Any("error", err))
	}
}
