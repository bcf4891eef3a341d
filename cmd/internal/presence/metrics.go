package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered once on the default registry; exposed by the app at /metrics.
var (
	metricSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_ws_open_sessions",
		Help: "Number of live registered websocket sessions.",
	})

	metricSessionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ws_sessions_superseded_total",
		Help: "Sessions evicted because a newer connection arrived for the same identity.",
	})

	metricSessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ws_sessions_rejected_total",
		Help: "Connections closed as unauthorized before registration.",
	})

	metricEventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_ws_events_dispatched_total",
		Help: "Inbound events routed through the dispatcher.",
	}, []string{"outcome"}) // outcome: handled | default

	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ws_events_dropped_total",
		Help: "Outbound events dropped due to backpressure on a recipient queue.",
	})

	metricFramesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_ws_frames_malformed_total",
		Help: "Inbound frames skipped because they were not valid events.",
	})
)
