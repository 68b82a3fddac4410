package pricing

import (
	"sort"
	"time"

	"github.com/raterudder/wattwindow/pkg/types"
)

// Engine picks when to run an appliance from a day's windows.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// FutureWindows returns the windows that end after now, sorted by start time.
func FutureWindows(windows []types.PriceWindow, now time.Time) []types.PriceWindow {
	future := make([]types.PriceWindow, 0, len(windows))
	for _, w := range windows {
		if w.EndTime.After(now) {
			future = append(future, w)
		}
	}
	sort.SliceStable(future, func(i, j int) bool {
		return future[i].StartTime.Before(future[j].StartTime)
	})
	return future
}

// Recommend returns the earliest block of great windows lasting at least
// required minutes that hasn't ended by now, or nil if there is none.
//
// A single great window long enough is preferred. Otherwise runs of great
// windows that are adjacent in start time order, with no other future window
// between them, are merged. In both cases the earliest match wins even if a
// later one is cheaper. Local hours are taken in loc.
func (e *Engine) Recommend(windows []types.PriceWindow, required int, now time.Time, loc *time.Location) *types.Recommendation {
	future := FutureWindows(windows, now)

	for _, w := range future {
		if w.Label == types.LabelGreat && w.DurationMinutes >= required {
			return &types.Recommendation{
				TimeOfDay:       e.TimeOfDay(w.StartTime, loc),
				StartTime:       w.StartTime,
				EndTime:         w.EndTime,
				Label:           w.Label,
				AvgPrice:        w.AvgPrice,
				DurationMinutes: w.DurationMinutes,
			}
		}
	}

	for i, first := range future {
		if first.Label != types.LabelGreat {
			continue
		}
		duration := first.DurationMinutes
		weighted := first.AvgPrice * float64(first.DurationMinutes)
		for _, next := range future[i+1:] {
			if next.Label != types.LabelGreat {
				break
			}
			duration += next.DurationMinutes
			weighted += next.AvgPrice * float64(next.DurationMinutes)
			if duration >= required {
				return &types.Recommendation{
					TimeOfDay:       e.TimeOfDay(first.StartTime, loc),
					StartTime:       first.StartTime,
					EndTime:         next.EndTime,
					Label:           types.LabelGreat,
					AvgPrice:        weighted / float64(duration),
					DurationMinutes: duration,
					Merged:          true,
				}
			}
		}
	}
	return nil
}

// TimeOfDay frames start as tonight when it falls in the evening or early
// morning local hours, otherwise today.
func (e *Engine) TimeOfDay(start time.Time, loc *time.Location) types.TimeOfDay {
	h := start.In(loc).Hour()
	if h >= e.cfg.TonightStartHour || h < e.cfg.TonightEndHour {
		return types.TimeOfDayTonight
	}
	return types.TimeOfDayToday
}

// CheapestWakingHour returns the cheapest observation whose local hour is
// within the waking hours, or nil if there is none. Ties keep the first
// observation in the order given.
func (e *Engine) CheapestWakingHour(prices []types.PriceObservation, loc *time.Location) *types.CheapestHour {
	var best *types.CheapestHour
	for _, p := range prices {
		h := p.Timestamp.In(loc).Hour()
		if h < e.cfg.WakingStartHour || h > e.cfg.WakingEndHour {
			continue
		}
		if best == nil || p.Value < best.Value {
			best = &types.CheapestHour{
				Hour:      h,
				Timestamp: p.Timestamp,
				Value:     p.Value,
			}
		}
	}
	return best
}
