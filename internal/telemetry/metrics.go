package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_api_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skald_api_request_duration_seconds",
		Help:    "HTTP API request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_api_active_connections",
		Help: "In-flight HTTP requests",
	})

	// ConnectedClients gauges live WebSocket sync connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_sync_connected_clients",
		Help: "Live WebSocket sync connections",
	})

	// RegisteredDevices gauges devices currently in the registry.
	RegisteredDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_devices_registered",
		Help: "Devices currently registered",
	})

	// MutationsTotal counts playback mutations by operation and outcome.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_playback_mutations_total",
		Help: "Playback mutations applied, by operation and outcome",
	}, []string{"operation", "outcome"})

	// BroadcastFanout observes the time spent fanning one snapshot out to
	// every live connection.
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skald_broadcast_fanout_seconds",
		Help:    "Snapshot fan-out duration",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
	})

	// BroadcastsDropped counts connections pruned after a failed send.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skald_broadcast_connections_dropped_total",
		Help: "Connections pruned after a failed broadcast send",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
