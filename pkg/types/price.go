package types

import (
	"sort"
	"time"
)

// Source identifies the upstream feed tier a price observation came from.
type Source string

const (
	SourceDayAhead  Source = "day-ahead"
	SourceRealTime  Source = "real-time"
	SourceSimulated Source = "simulated"
)

// Sources lists every known source in priority order.
var Sources = []Source{SourceDayAhead, SourceRealTime, SourceSimulated}

// Priority returns the rank of the source, lower is preferred. Unknown sources
// sort last.
func (s Source) Priority() int {
	for i, src := range Sources {
		if src == s {
			return i
		}
	}
	return len(Sources)
}

// Valid returns true if s is one of the known sources.
func (s Source) Valid() bool {
	return s.Priority() < len(Sources)
}

// PriceObservation is a single price sample for a zone.
type PriceObservation struct {
	Timestamp time.Time `json:"timestamp"`
	Zone      string    `json:"zone"`
	// Value is the price in dollars per MWh.
	Value  float64 `json:"value"`
	Source Source  `json:"source"`
}

// Key returns the uniqueness key of the observation. Two observations with the
// same key are the same row and the later write replaces the earlier one.
func (p PriceObservation) Key() string {
	return p.Timestamp.UTC().Format(time.RFC3339) + "|" + p.Zone + "|" + string(p.Source)
}

// SortByTimestamp sorts observations ascending by timestamp, keeping the
// original order of equal timestamps.
func SortByTimestamp(obs []PriceObservation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})
}

// BestSource returns the highest priority source present in obs, or an empty
// Source if obs is empty.
func BestSource(obs []PriceObservation) Source {
	var best Source
	for _, o := range obs {
		if best == "" || o.Source.Priority() < best.Priority() {
			best = o.Source
		}
	}
	return best
}

// BestSeries returns the observations from the highest priority source in obs,
// sorted by timestamp, along with that source. Mixing tiers would interleave
// hourly and 5 minute samples so lower priority tiers are dropped entirely.
func BestSeries(obs []PriceObservation) ([]PriceObservation, Source) {
	best := BestSource(obs)
	out := make([]PriceObservation, 0, len(obs))
	for _, o := range obs {
		if o.Source == best {
			out = append(out, o)
		}
	}
	SortByTimestamp(out)
	return out, best
}

// BestSeriesByDay applies BestSeries to each calendar day of obs in loc and
// returns the concatenation sorted by timestamp, so a day with day-ahead
// prices contributes only those while a day that fell back contributes its
// fallback tier.
func BestSeriesByDay(obs []PriceObservation, loc *time.Location) []PriceObservation {
	days := make(map[string][]PriceObservation)
	for _, o := range obs {
		key := o.Timestamp.In(loc).Format(time.DateOnly)
		days[key] = append(days[key], o)
	}
	out := make([]PriceObservation, 0, len(obs))
	for _, day := range days {
		series, _ := BestSeries(day)
		out = append(out, series...)
	}
	SortByTimestamp(out)
	return out
}
