package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "wattwindow_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestTotal   *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec
	ingestPrices  *prometheus.CounterVec
	windowsBuilt  *prometheus.GaugeVec

	recommendTotal    *prometheus.CounterVec
	lazyIngestTotal   *prometheus.CounterVec
	historicalLatency prometheus.Histogram
)

// Init registers the metrics with the default registry. It is safe to call
// more than once and every recorder calls it.
func Init() {
	registerOnce.Do(func() {
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_total",
				Help: "Total ingestion cycles by source used and result",
			},
			[]string{"source", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingestion cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestPrices = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_prices_total",
				Help: "Total price observations upserted by source",
			},
			[]string{"source"},
		)
		windowsBuilt = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "windows",
				Help: "Windows produced by the latest rebuild by label",
			},
			[]string{"zone", "label"},
		)
		recommendTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recommend_total",
				Help: "Total recommendation requests by outcome",
			},
			[]string{"outcome"},
		)
		lazyIngestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lazy_ingest_total",
				Help: "Total ingestions triggered by recommendation requests by result",
			},
			[]string{"result"},
		)
		historicalLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "historical_averages_latency_seconds",
				Help:    "Historical averages latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			ingestTotal,
			ingestLatency,
			ingestPrices,
			windowsBuilt,
			recommendTotal,
			lazyIngestTotal,
			historicalLatency,
		)
	})
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// ObserveIngest records one ingestion cycle. source may be empty when every
// source failed.
func ObserveIngest(source string, prices int, start time.Time, err error) {
	Init()
	if source == "" {
		source = "none"
	}
	ingestTotal.WithLabelValues(source, result(err)).Inc()
	ingestLatency.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		ingestPrices.WithLabelValues(source).Add(float64(prices))
	}
}

// SetWindows records how many windows of each label the latest rebuild
// produced for zone.
func SetWindows(zone string, counts map[string]int, labels []string) {
	Init()
	for _, l := range labels {
		windowsBuilt.WithLabelValues(zone, l).Set(float64(counts[l]))
	}
}

// ObserveRecommendation records the outcome of a recommendation request,
// e.g. "single", "merged", "none" or "error".
func ObserveRecommendation(outcome string) {
	Init()
	recommendTotal.WithLabelValues(outcome).Inc()
}

// ObserveLazyIngest records the result of a background ingestion.
func ObserveLazyIngest(err error) {
	Init()
	lazyIngestTotal.WithLabelValues(result(err)).Inc()
}

// ObserveHistoricalAverages records how long a historical averages request
// took.
func ObserveHistoricalAverages(start time.Time) {
	Init()
	historicalLatency.Observe(time.Since(start).Seconds())
}
