package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BroadcastPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_broadcast_published_total",
		Help: "Total number of broadcast envelopes accepted for delivery by event type",
	}, []string{"type"})

	BroadcastDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_broadcast_dropped_total",
		Help: "Total number of broadcast envelopes dropped before delivery by reason",
	}, []string{"reason"})

	BroadcastSinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_broadcast_sink_failures_total",
		Help: "Total number of failed envelope deliveries by sink",
	}, []string{"sink"})

	WebsocketSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playsession_websocket_subscribers",
		Help: "Number of websocket connections currently subscribed to a session",
	})
)

// IncBroadcastPublished records one envelope handed to the dispatcher.
func IncBroadcastPublished(eventType string) {
	BroadcastPublishedTotal.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

// IncBroadcastDropped records an envelope lost to backpressure or shutdown.
func IncBroadcastDropped(reason string) {
	BroadcastDroppedTotal.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// IncSinkFailure records a sink delivery error.
func IncSinkFailure(sink string) {
	BroadcastSinkFailuresTotal.WithLabelValues(labelOrUnknown(sink)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
