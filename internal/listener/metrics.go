package listener

import "github.com/prometheus/client_golang/prometheus"

// Prometheus connection metrics, exposed by the diagnostics server.
var (
	framesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushlink_frames_received_total",
			Help: "Control frames received on the delivery connection.",
		},
		[]string{"type"},
	)
	messagesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushlink_messages_received_total",
			Help: "Messages fetched, parsed, and published.",
		},
	)
	parseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushlink_parse_failures_total",
			Help: "Message envelopes dropped as malformed.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushlink_reconnects_total",
			Help: "Reconnect attempts after a connection failure.",
		},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushlink_connection_state",
			Help: "Current connection state (0=disconnected, 1=connecting, 2=authenticating, 3=live, 4=backoff).",
		},
	)
)

func init() {
	prometheus.MustRegister(framesReceivedTotal)
	prometheus.MustRegister(messagesReceivedTotal)
	prometheus.MustRegister(parseFailuresTotal)
	prometheus.MustRegister(reconnectsTotal)
	prometheus.MustRegister(connectionState)
}
