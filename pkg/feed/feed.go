package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/types"
)

var (
	// ErrSourceUnavailable means a source could not produce prices, e.g. a
	// network failure, a non-200 status or no rows for the zone. The adapter
	// falls back to the next source.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrSourceFormat means the upstream payload was missing required fields.
	// It is never recovered by falling back.
	ErrSourceFormat = errors.New("price source format error")
)

// Source fetches the price series of one trading day from one feed tier.
type Source interface {
	// Name returns the source tier observations are tagged with.
	Name() types.Source

	// Fetch returns the observations for zone on the trading day containing
	// day.
	Fetch(ctx context.Context, zone Zone, day time.Time) ([]types.PriceObservation, error)
}

// Adapter tries each source in priority order and returns the first
// non-empty series.
type Adapter struct {
	sources []Source
}

// NewAdapter creates an Adapter trying sources in the given order.
func NewAdapter(sources ...Source) *Adapter {
	return &Adapter{sources: sources}
}

// Sources returns the configured sources in priority order.
func (a *Adapter) Sources() []types.Source {
	names := make([]types.Source, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// FetchPrices returns the deduplicated series from the first source that
// succeeds along with the source that produced it.
func (a *Adapter) FetchPrices(ctx context.Context, zone Zone, day time.Time) ([]types.PriceObservation, types.Source, error) {
	var errs []error
	for _, src := range a.sources {
		obs, err := src.Fetch(ctx, zone, day)
		if err != nil {
			if errors.Is(err, ErrSourceFormat) {
				log.Ctx(ctx).ErrorContext(
					ctx,
					"price source returned malformed data",
					slog.String("source", string(src.Name())),
					slog.Any("error", err),
				)
				return nil, "", err
			}
			log.Ctx(ctx).WarnContext(
				ctx,
				"price source failed, falling back",
				slog.String("source", string(src.Name())),
				slog.Any("error", err),
			)
			errs = append(errs, err)
			continue
		}

		obs = Dedupe(obs)
		if len(obs) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "price source returned no prices, falling back", slog.String("source", string(src.Name())))
			errs = append(errs, fmt.Errorf("%w: %s returned no prices", ErrSourceUnavailable, src.Name()))
			continue
		}

		log.Ctx(ctx).DebugContext(
			ctx,
			"fetched prices",
			slog.String("source", string(src.Name())),
			slog.Int("count", len(obs)),
			slog.Time("first", obs[0].Timestamp),
			slog.Time("last", obs[len(obs)-1].Timestamp),
		)
		return obs, src.Name(), nil
	}
	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%w: no sources configured", ErrSourceUnavailable)
	}
	return nil, "", fmt.Errorf("all price sources failed: %w", errors.Join(errs...))
}

// Dedupe keeps the last observation for every timestamp and returns them
// sorted ascending.
func Dedupe(obs []types.PriceObservation) []types.PriceObservation {
	idx := make(map[int64]int, len(obs))
	out := make([]types.PriceObservation, 0, len(obs))
	for _, o := range obs {
		o.Timestamp = o.Timestamp.UTC()
		key := o.Timestamp.UnixNano()
		if i, ok := idx[key]; ok {
			out[i] = o
			continue
		}
		idx[key] = len(out)
		out = append(out, o)
	}
	types.SortByTimestamp(out)
	return out
}
