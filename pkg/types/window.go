package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Label is the affordability tier of a price, cheapest first.
type Label string

const (
	LabelGreat Label = "great"
	LabelGood  Label = "good"
	LabelOkay  Label = "okay"
	LabelAvoid Label = "avoid"
)

// Labels lists every label from cheapest to most expensive.
var Labels = []Label{LabelGreat, LabelGood, LabelOkay, LabelAvoid}

// Rank returns the ordinal of the label, 0 being the cheapest. Unknown labels
// return -1.
func (l Label) Rank() int {
	for i, v := range Labels {
		if v == l {
			return i
		}
	}
	return -1
}

// Breakpoints are the 25th/50th/75th percentile prices of a zone's trailing
// history.
type Breakpoints struct {
	Zone string  `json:"-"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
}

// Classify maps a price onto the label ladder. A price equal to a breakpoint
// gets the cheaper label.
func (b Breakpoints) Classify(value float64) Label {
	switch {
	case value <= b.P25:
		return LabelGreat
	case value <= b.P50:
		return LabelGood
	case value <= b.P75:
		return LabelOkay
	default:
		return LabelAvoid
	}
}

// Percentile returns the breakpoint bounding the label from above. Avoid has
// no upper bound so its lower bound, p75, is returned.
func (b Breakpoints) Percentile(l Label) float64 {
	switch l {
	case LabelGreat:
		return b.P25
	case LabelGood:
		return b.P50
	default:
		return b.P75
	}
}

// PriceWindow is a maximal run of consecutive observations sharing a label.
type PriceWindow struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Zone            string    `json:"zone"`
	Label           Label     `json:"label"`
	AvgPrice        float64   `json:"avg_price"`
	Percentile      float64   `json:"percentile"`
	DurationMinutes int       `json:"duration_minutes"`
	// Generation is the id of the rebuild that produced the window.
	Generation string `json:"-"`
}

// RoundPrice rounds a price to cents for persistence.
func RoundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
