package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live websocket sessions on this process.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Number of live websocket sessions.",
	})

	// ActiveTopics tracks non-empty rooms known to the local router.
	ActiveTopics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_topics",
		Help: "Number of non-empty rooms on this process.",
	})

	// EventsDelivered counts events handed to local sessions, by event name.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "Events delivered to local websocket sessions.",
	}, []string{"event"})

	// EventsDropped counts events discarded because a session's outbound
	// buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_dropped_total",
		Help: "Events dropped due to slow consumers.",
	})

	// BusPublished counts envelopes published to the broadcast bus.
	BusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bus_published_total",
		Help: "Envelopes published to the cross-process bus.",
	})

	// BusReceived counts envelopes received from other relay processes.
	BusReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bus_received_total",
		Help: "Envelopes received from the cross-process bus.",
	})

	// Injections counts /emit calls by event name and outcome.
	Injections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_injections_total",
		Help: "Backend event injections by event and outcome.",
	}, []string{"event", "outcome"})
)
