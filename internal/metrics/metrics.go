package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Number of live websocket connections.",
		},
	)

	SocketEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_events_total",
			Help: "Client socket events handled, by event and result.",
		},
		[]string{"event", "result"},
	)

	MessagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Total number of stored messages.",
		},
		[]string{"chat_type"},
	)

	MessagesCiphertextBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messages_ciphertext_bytes",
			Help:    "Ciphertext sizes for stored messages.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"chat_type"},
	)
)

// MustRegister registers every collector with the default registry. Only
// main calls it; collectors work unregistered in tests.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		WSConnections,
		SocketEventsTotal,
		MessagesStoredTotal,
		MessagesCiphertextBytes,
	)
}
