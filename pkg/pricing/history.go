package pricing

import (
	"time"

	"github.com/raterudder/wattwindow/pkg/types"
)

// HourlyAverages averages prices by local hour of day, keeping only
// observations on the same local weekday as now. Each day only counts its
// best source. All 24 hours are returned; hours without samples have a nil
// average.
func HourlyAverages(prices []types.PriceObservation, now time.Time, loc *time.Location) []types.HourlyAverage {
	weekday := now.In(loc).Weekday()

	var sums [24]float64
	var counts [24]int
	for _, p := range types.BestSeriesByDay(prices, loc) {
		t := p.Timestamp.In(loc)
		if t.Weekday() != weekday {
			continue
		}
		sums[t.Hour()] += p.Value
		counts[t.Hour()]++
	}

	out := make([]types.HourlyAverage, 24)
	for h := range out {
		out[h] = types.HourlyAverage{Hour: h, SampleCount: counts[h]}
		if counts[h] > 0 {
			avg := sums[h] / float64(counts[h])
			out[h].AvgPrice = &avg
		}
	}
	return out
}
