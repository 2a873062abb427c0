package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// sensor pipeline, upstream adapters, and alerting.
type Metrics struct {
	// BLE sensor pipeline.
	SensorReadings    prometheus.Counter
	SensorDecodeDrops prometheus.Counter
	SensorReconnects  prometheus.Counter
	SensorConnected   prometheus.Gauge

	// Upstream hydrology APIs.
	UpstreamRequests *prometheus.CounterVec   // labels: source={usgs,openmeteo}, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: source={usgs,openmeteo}
	CacheLookups     *prometheus.CounterVec   // labels: cache, result={fresh,stale,miss}

	// Watchlist alerting.
	AlertsPublished    prometheus.Counter
	AlertCheckDuration prometheus.Histogram
	WatchlistSize      prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.SensorReadings,
		m.SensorDecodeDrops,
		m.SensorReconnects,
		m.SensorConnected,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.AlertsPublished,
		m.AlertCheckDuration,
		m.WatchlistSize,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SensorReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "sensor_readings_total",
			Help:      "Water-level notifications decoded from the BLE sensor.",
		}),
		SensorDecodeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "sensor_decode_drops_total",
			Help:      "Malformed or undersized BLE payloads dropped without state mutation.",
		}),
		SensorReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "sensor_reconnect_attempts_total",
			Help:      "Reconnection attempts after unexpected BLE link drops.",
		}),
		SensorConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floodwatch",
			Name:      "sensor_connected",
			Help:      "1 while a personal sensor is connected, 0 otherwise.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "upstream_requests_total",
			Help:      "Hydrology API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "floodwatch",
			Name:      "upstream_request_duration_seconds",
			Help:      "Hydrology API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodwatch",
			Name:      "alerts_published_total",
			Help:      "Risk-escalation alert events published for watched gauges.",
		}),
		AlertCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "floodwatch",
			Name:      "alert_check_duration_seconds",
			Help:      "Duration of a complete watchlist evaluation pass.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floodwatch",
			Name:      "watchlist_entries",
			Help:      "Watchlist entries seen at the last evaluation pass.",
		}),
	}
}
