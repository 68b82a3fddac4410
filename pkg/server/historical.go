package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/metrics"
	"github.com/raterudder/wattwindow/pkg/pricing"
	"github.com/raterudder/wattwindow/pkg/storage"
	"github.com/raterudder/wattwindow/pkg/types"
)

const maxWeeksBack = 52

type historicalResponse struct {
	HourlyAverages []types.HourlyAverage `json:"hourlyAverages"`
	DayOfWeek      string                `json:"dayOfWeek"`
	WeeksAnalyzed  int                   `json:"weeksAnalyzed"`
	Zone           string                `json:"zone"`
}

func (s *Server) handleHistoricalAverages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	defer metrics.ObserveHistoricalAverages(start)

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
	weeksBack := params.WeeksBack
	if weeksBack == 0 {
		weeksBack = s.defaultWeeksBack
	}
	if weeksBack < 0 || weeksBack > maxWeeksBack {
		writeJSONError(w, "weeks_back must be between 1 and 52", http.StatusBadRequest)
		return
	}

	now := s.now()
	prices, err := s.storage.GetPrices(ctx, storage.PriceQuery{
		Zone:  zone.ID,
		Start: now.AddDate(0, 0, -7*weeksBack),
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.String("zone", zone.ID), slog.Any("error", err))
		writeJSONError(w, "failed to get prices: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, historicalResponse{
		HourlyAverages: pricing.HourlyAverages(prices, now, zone.Location),
		DayOfWeek:      now.In(zone.Location).Weekday().String(),
		WeeksAnalyzed:  weeksBack,
		Zone:           zone.ID,
	})
}
