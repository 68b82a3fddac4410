package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/metrics"
	"github.com/raterudder/wattwindow/pkg/storage"
	"github.com/raterudder/wattwindow/pkg/types"
)

type recommendResponse struct {
	Recommendation     *types.Recommendation    `json:"recommendation"`
	Windows            []types.PriceWindow      `json:"windows"`
	Prices             []types.PriceObservation `json:"prices"`
	Appliance          string                   `json:"appliance"`
	RequiredDuration   int                      `json:"requiredDuration"`
	DataSource         types.Source             `json:"dataSource"`
	CheapestWakingHour *types.CheapestHour      `json:"cheapestWakingHour"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := parseParams(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	zone, err := feed.LookupZone(params.Zone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = log.WithZone(ctx, zone.ID)

	appliance := strings.ToLower(strings.TrimSpace(params.Appliance))
	required := s.cfg.RequiredMinutes(appliance)
	now := s.now()
	dayStart, dayEnd := zone.DayBounds(now)

	prices, err := s.storage.GetPrices(ctx, storage.PriceQuery{Zone: zone.ID, Start: dayStart, End: dayEnd})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.Any("error", err))
		metrics.ObserveRecommendation("error")
		writeJSONError(w, "failed to get prices: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !hasSource(prices, types.SourceDayAhead) {
		s.triggerIngest(ctx, zone, now)
	}

	windows, err := s.storage.GetWindows(ctx, zone.ID, dayStart, dayEnd)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get windows", slog.Any("error", err))
		metrics.ObserveRecommendation("error")
		writeJSONError(w, "failed to get windows: "+err.Error(), http.StatusInternalServerError)
		return
	}

	rec := s.engine.Recommend(windows, required, now, zone.Location)
	series, source := types.BestSeries(prices)

	resp := recommendResponse{
		Recommendation:     rec,
		Windows:            windows,
		Prices:             series,
		Appliance:          appliance,
		RequiredDuration:   required,
		DataSource:         source,
		CheapestWakingHour: s.engine.CheapestWakingHour(series, zone.Location),
	}
	if resp.Windows == nil {
		resp.Windows = []types.PriceWindow{}
	}

	switch {
	case rec == nil:
		metrics.ObserveRecommendation("none")
	case rec.Merged:
		rec.AvgPrice = types.RoundPrice(rec.AvgPrice)
		metrics.ObserveRecommendation("merged")
	default:
		metrics.ObserveRecommendation("single")
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"recommendation computed",
		slog.String("appliance", appliance),
		slog.Int("required", required),
		slog.Int("windows", len(windows)),
		slog.Bool("found", rec != nil),
	)
	writeJSON(w, resp)
}

func hasSource(prices []types.PriceObservation, source types.Source) bool {
	for _, p := range prices {
		if p.Source == source {
			return true
		}
	}
	return false
}

// triggerIngest warms today's prices in the background. It outlives the
// request and its result is only logged. Triggers for the same zone and day
// share one in-flight ingestion and are then held off for lazyIngestInterval.
func (s *Server) triggerIngest(ctx context.Context, zone feed.Zone, day time.Time) {
	key := zone.ID + "|" + day.In(zone.Location).Format(time.DateOnly)
	if !s.claimLazyIngest(key, s.now()) {
		log.Ctx(ctx).DebugContext(ctx, "ingestion recently triggered, skipping")
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "no day-ahead prices for today, triggering ingestion")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lazyIngestTimeout)
	go func() {
		defer cancel()
		_, err, shared := s.lazyIngests.Do(key, func() (any, error) {
			_, err := s.ingester.Ingest(ctx, zone, day)
			metrics.ObserveLazyIngest(err)
			return nil, err
		})
		if err != nil && !shared {
			log.Ctx(ctx).WarnContext(ctx, "background ingestion failed", slog.Any("error", err))
		}
	}()
}

// claimLazyIngest reports whether a lazy ingestion for key may start at now
// and records it if so.
func (s *Server) claimLazyIngest(key string, now time.Time) bool {
	s.lazyMu.Lock()
	defer s.lazyMu.Unlock()
	if s.lazyLast == nil {
		s.lazyLast = make(map[string]time.Time)
	}
	if last, ok := s.lazyLast[key]; ok && now.Sub(last) < s.lazyIngestInterval {
		return false
	}
	for k, last := range s.lazyLast {
		if now.Sub(last) >= s.lazyIngestInterval {
			delete(s.lazyLast, k)
		}
	}
	s.lazyLast[key] = now
	return true
}
