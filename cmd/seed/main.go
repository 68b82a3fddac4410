package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/ingest"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/notify"
	"github.com/raterudder/wattwindow/pkg/pricing"
	"github.com/raterudder/wattwindow/pkg/storage"
)

// seed fills a zone with simulated history so percentiles are meaningful
// before any real prices have been ingested. Each day runs through a full
// ingestion cycle so today's windows exist afterwards too.
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(fmt.Errorf("failed to load .env: %w", err))
	}
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}

	s := storage.Configured()
	cfg := pricing.Configured()
	zoneName := lflag.String("seed-zone", feed.DefaultZone, "Zone to seed")
	history := lflag.Duration("seed-history", 30*24*time.Hour, "How far back to seed, rounded down to whole days")
	lflag.Configure()
	defer s.Close()

	ctx := context.Background()
	zone, err := feed.LookupZone(*zoneName)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid zone", slog.Any("error", err))
		os.Exit(1)
	}
	ctx = log.WithZone(ctx, zone.ID)

	sim := feed.NewSimulated(nil)
	ing := ingest.New(feed.NewAdapter(sim), s, *cfg, notify.Noop{})

	days := int(*history / (24 * time.Hour))
	now := time.Now().In(zone.Location)
	log.Ctx(ctx).InfoContext(ctx, "seeding simulated prices", slog.Int("days", days))

	// breakpoints always cover the lookback before now, so oldest first only
	// means today's windows are built last, once the full history is stored
	for d := days; d >= 0; d-- {
		day := now.AddDate(0, 0, -d)
		res, err := ing.Ingest(ctx, zone, day)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed day", slog.Time("day", day), slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).DebugContext(
			ctx,
			"seeded day",
			slog.Time("day", res.Day),
			slog.Int("prices", res.Prices),
			slog.Int("windows", res.Windows),
		)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding complete")
}
