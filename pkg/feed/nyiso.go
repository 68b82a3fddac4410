package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/types"
)

const (
	nyisoDayAheadDataset = "damlbmp"
	nyisoRealTimeDataset = "realtime"
)

var nyisoTimeLayouts = []string{
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// NYISO fetches zonal LBMP files published by the New York ISO. Each trading
// day is a single CSV with a header row and one row per zone per interval.
type NYISO struct {
	source  types.Source
	dataset string
	baseURL string
	client  *http.Client

	// day-ahead files never change once published so they are cached per
	// date
	cacheable    bool
	mu           sync.Mutex
	cachedPrices map[string][]types.PriceObservation
}

// NewNYISODayAhead returns the day-ahead hourly source.
func NewNYISODayAhead(baseURL string, client *http.Client) *NYISO {
	return &NYISO{
		source:       types.SourceDayAhead,
		dataset:      nyisoDayAheadDataset,
		baseURL:      baseURL,
		client:       client,
		cacheable:    true,
		cachedPrices: make(map[string][]types.PriceObservation),
	}
}

// NewNYISORealTime returns the real-time 5 minute source.
func NewNYISORealTime(baseURL string, client *http.Client) *NYISO {
	return &NYISO{
		source:  types.SourceRealTime,
		dataset: nyisoRealTimeDataset,
		baseURL: baseURL,
		client:  client,
	}
}

// Name implements Source.
func (n *NYISO) Name() types.Source {
	return n.source
}

func (n *NYISO) url(day time.Time) string {
	dateStr := day.Format("20060102")
	return fmt.Sprintf("%s/%s/%s%s_zone.csv", strings.TrimRight(n.baseURL, "/"), n.dataset, dateStr, n.dataset)
}

// Fetch implements Source.
func (n *NYISO) Fetch(ctx context.Context, zone Zone, day time.Time) ([]types.PriceObservation, error) {
	day = day.In(zone.Location)
	cacheKey := zone.ID + "|" + day.Format("20060102")

	if n.cacheable {
		n.mu.Lock()
		if prices, ok := n.cachedPrices[cacheKey]; ok && len(prices) > 0 {
			n.mu.Unlock()
			return prices, nil
		}
		n.mu.Unlock()
	}

	u := n.url(day)
	log.Ctx(ctx).DebugContext(ctx, "fetching nyiso prices", slog.String("source", string(n.source)), slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %w", ErrSourceUnavailable, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: nyiso %s status: %d", ErrSourceUnavailable, n.dataset, resp.StatusCode)
	}

	prices, err := parseZonalCSV(ctx, resp.Body, zone, n.source)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no %s rows for zone %s", ErrSourceUnavailable, n.dataset, zone.ID)
	}

	if n.cacheable {
		n.mu.Lock()
		n.cachedPrices[cacheKey] = prices
		n.mu.Unlock()
	}
	return prices, nil
}

// parseZonalCSV reads a zonal price file. Column order isn't stable across
// publications so the header is matched by name.
func parseZonalCSV(ctx context.Context, r io.Reader, zone Zone, source types.Source) ([]types.PriceObservation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	feedLoc := zone.FeedLocation()
	tsIdx, nameIdx, priceIdx := -1, -1, -1
	var prices []types.PriceObservation

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "nyiso csv parse error", slog.Any("error", err))
			// ignore parse errors for bad rows
			continue
		}
		if len(record) == 0 {
			continue
		}

		if tsIdx < 0 {
			for i, col := range record {
				col = strings.ToLower(strings.TrimSpace(col))
				switch {
				case col == "time stamp" || col == "timestamp":
					tsIdx = i
				case col == "name" || col == "zone":
					nameIdx = i
				case strings.HasPrefix(col, "lbmp"):
					priceIdx = i
				}
			}
			var missing []string
			if tsIdx < 0 {
				missing = append(missing, "time stamp")
			}
			if nameIdx < 0 {
				missing = append(missing, "name")
			}
			if priceIdx < 0 {
				missing = append(missing, "lbmp")
			}
			if len(missing) > 0 {
				log.Ctx(ctx).WarnContext(ctx, "nyiso csv missing expected columns", slog.Any("missing", missing), slog.Any("header", record))
				return nil, fmt.Errorf("%w: missing columns %s", ErrSourceFormat, strings.Join(missing, ", "))
			}
			continue
		}

		if len(record) <= max(tsIdx, nameIdx, priceIdx) {
			continue
		}
		if !zone.Matches(record[nameIdx]) {
			continue
		}

		ts, err := parseFeedTime(record[tsIdx], feedLoc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse nyiso time", slog.String("value", record[tsIdx]), slog.Any("error", err))
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(record[priceIdx]), 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse nyiso price", slog.String("value", record[priceIdx]), slog.Any("error", err))
			continue
		}

		prices = append(prices, types.PriceObservation{
			Timestamp: ts,
			Zone:      zone.ID,
			Value:     val,
			Source:    source,
		})
	}

	if tsIdx < 0 {
		return nil, fmt.Errorf("%w: empty response", ErrSourceUnavailable)
	}
	return prices, nil
}

func parseFeedTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range nyisoTimeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
