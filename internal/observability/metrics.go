package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// refresh pipeline and its adapters.
type Metrics struct {
	RefreshCycles   *prometheus.CounterVec // labels: outcome={success,fetch_error,apply_error,state_error}
	RefreshDuration prometheus.Histogram
	RefreshRunning  prometheus.Gauge

	EventsNearby          prometheus.Gauge
	RecordsFetched        prometheus.Counter
	NormalizationFailures prometheus.Counter

	// Source API metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,error}
	LocationCache *prometheus.CounterVec // labels: result={hit,miss}

	// Calendar sink metrics.
	CalendarOps *prometheus.CounterVec // labels: op={add,update,remove}, outcome={success,error}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "refresh_cycles_total",
			Help:      "Completed refresh cycles by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fireworks",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-aggregate-reconcile cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RefreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fireworks",
			Name:      "refresh_running",
			Help:      "1 while a refresh cycle is in progress.",
		}),
		EventsNearby: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fireworks",
			Name:      "events_nearby",
			Help:      "Events within the configured radius in the latest result.",
		}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "records_fetched_total",
			Help:      "Raw event records received from the source API.",
		}),
		NormalizationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "normalization_failures_total",
			Help:      "Raw records skipped because they could not be normalized.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "fetch_requests_total",
			Help:      "Source API requests by outcome.",
		}, []string{"outcome"}),
		LocationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "location_cache_total",
			Help:      "Location-id cache lookups by result.",
		}, []string{"result"}),
		CalendarOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireworks",
			Name:      "calendar_ops_total",
			Help:      "Calendar sink operations by op and outcome.",
		}, []string{"op", "outcome"}),
	}

	prometheus.MustRegister(
		m.RefreshCycles,
		m.RefreshDuration,
		m.RefreshRunning,
		m.EventsNearby,
		m.RecordsFetched,
		m.NormalizationFailures,
		m.FetchRequests,
		m.LocationCache,
		m.CalendarOps,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RefreshCycles:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "fireworks", Name: "refresh_cycles_total"}, []string{"outcome"}),
		RefreshDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "fireworks", Name: "refresh_duration_seconds"}),
		RefreshRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "fireworks", Name: "refresh_running"}),
		EventsNearby:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "fireworks", Name: "events_nearby"}),
		RecordsFetched:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "fireworks", Name: "records_fetched_total"}),
		NormalizationFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "fireworks", Name: "normalization_failures_total"}),
		FetchRequests:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "fireworks", Name: "fetch_requests_total"}, []string{"outcome"}),
		LocationCache:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "fireworks", Name: "location_cache_total"}, []string{"result"}),
		CalendarOps:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "fireworks", Name: "calendar_ops_total"}, []string{"op", "outcome"}),
	}
}
