package types

import "time"

// TimeOfDay frames a recommendation for display.
type TimeOfDay string

const (
	TimeOfDayToday   TimeOfDay = "today"
	TimeOfDayTonight TimeOfDay = "tonight"
)

// Recommendation is the suggested block to run an appliance in.
type Recommendation struct {
	TimeOfDay       TimeOfDay `json:"time_of_day"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Label           Label     `json:"label"`
	AvgPrice        float64   `json:"avg_price"`
	DurationMinutes int       `json:"duration_minutes"`
	// Merged is true when the recommendation spans several windows.
	Merged bool `json:"merged,omitempty"`
}

// CheapestHour is the cheapest observation within waking hours.
type CheapestHour struct {
	Hour      int       `json:"hour"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HourlyAverage is the mean price seen at one local hour of day. AvgPrice is
// nil when no samples were found for the hour.
type HourlyAverage struct {
	Hour        int      `json:"hour"`
	AvgPrice    *float64 `json:"avg_price"`
	SampleCount int      `json:"sample_count"`
}
