package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool", Name: "rides_created_total",
		Help: "Total rides offered by drivers",
	})
	JoinAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carpool", Name: "join_attempts_total",
		Help: "Ride join attempts by outcome",
	}, []string{"outcome"})
	HandshakeDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carpool", Name: "handshake_decisions_total",
		Help: "Driver accept/decline decisions",
	}, []string{"decision"})
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carpool", Name: "events_published_total",
		Help: "Real-time events published by type",
	}, []string{"type"})
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool", Name: "location_updates_total",
		Help: "Location reports relayed between ride participants",
	})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "carpool", Name: "connected_clients",
		Help: "Currently connected WebSocket clients",
	})
)
