// Package metrics exposes Prometheus collectors for rooms, peers and media objects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "huddle"

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with at least one peer.",
	})
	RoomCreateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_create_failures_total",
		Help:      "Routing context creations rejected by the media engine.",
	})
	PeersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_active",
		Help:      "Joined peers across all rooms.",
	})
	TransportsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transports_active",
		Help:      "Registered transports by direction.",
	}, []string{"kind"})
	ProducersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "producers_active",
		Help:      "Active producers by media kind.",
	}, []string{"kind"})
	ConsumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consumers_active",
		Help:      "Registered consumers.",
	})
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_requests_total",
		Help:      "Signaling requests by message type and result reason.",
	}, []string{"type", "result"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications not queued because of backpressure or closed connections.",
	})
	CleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_failures_total",
		Help:      "Engine close calls that failed during cleanup, by object.",
	}, []string{"object"})
)
