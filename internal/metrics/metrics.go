// Package metrics holds the Prometheus collectors for the sync and chat services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Broadcast metrics
	Broadcasts prometheus.Counter
	Deliveries *prometheus.CounterVec

	// Sync connection metrics
	PeersConnected *prometheus.GaugeVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Chat metrics
	Completions *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Broadcasts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_broadcasts_total",
				Help: "Total number of session broadcasts",
			},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_broadcast_deliveries_total",
				Help: "Session pushes per peer kind and result",
			},
			[]string{"kind", "result"},
		),
		PeersConnected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_peers_connected",
				Help: "Remote peers attached to the background router",
			},
			[]string{"kind"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		Completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_chat_completions_total",
				Help: "Chat completions per mode and result",
			},
			[]string{"mode", "result"},
		),
	}
}
