package pricing

import (
	"github.com/raterudder/wattwindow/pkg/types"
)

// BuildWindows merges consecutive observations sharing a label into windows.
// obs must be sorted ascending by timestamp. Each observation counts as one
// SlotMinutes slot and a window's end time is the timestamp of its last
// observation. Average prices are left unrounded.
func BuildWindows(obs []types.PriceObservation, bp types.Breakpoints) []types.PriceWindow {
	var windows []types.PriceWindow
	var cur *types.PriceWindow
	var sum float64
	var count int

	for _, o := range obs {
		label := bp.Classify(o.Value)
		if cur != nil && cur.Label == label {
			sum += o.Value
			count++
			cur.EndTime = o.Timestamp
			cur.DurationMinutes += SlotMinutes
			cur.AvgPrice = sum / float64(count)
			continue
		}

		if cur != nil {
			windows = append(windows, *cur)
		}
		zone := o.Zone
		if zone == "" {
			zone = bp.Zone
		}
		cur = &types.PriceWindow{
			StartTime:       o.Timestamp,
			EndTime:         o.Timestamp,
			Zone:            zone,
			Label:           label,
			AvgPrice:        o.Value,
			Percentile:      bp.Percentile(label),
			DurationMinutes: SlotMinutes,
		}
		sum = o.Value
		count = 1
	}
	if cur != nil {
		windows = append(windows, *cur)
	}
	return windows
}
