package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveIngest(t *testing.T) {
	start := time.Now()
	ObserveIngest("day-ahead", 24, start, nil)
	ObserveIngest("", 0, start, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(ingestTotal.WithLabelValues("day-ahead", resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ingestTotal.WithLabelValues("none", resultError)))
	assert.Equal(t, 24.0, testutil.ToFloat64(ingestPrices.WithLabelValues("day-ahead")))
}

func TestSetWindows(t *testing.T) {
	SetWindows("N.Y.C.", map[string]int{"great": 2}, []string{"great", "avoid"})
	assert.Equal(t, 2.0, testutil.ToFloat64(windowsBuilt.WithLabelValues("N.Y.C.", "great")))
	assert.Equal(t, 0.0, testutil.ToFloat64(windowsBuilt.WithLabelValues("N.Y.C.", "avoid")))
}

func TestObserveRecommendation(t *testing.T) {
	ObserveRecommendation("merged")
	ObserveRecommendation("merged")
	assert.Equal(t, 2.0, testutil.ToFloat64(recommendTotal.WithLabelValues("merged")))

	ObserveLazyIngest(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(lazyIngestTotal.WithLabelValues(resultSuccess)))
	ObserveHistoricalAverages(time.Now())
}
