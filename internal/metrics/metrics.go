// Package metrics exposes Prometheus instrumentation for the moment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MomentsCreated counts moments created via create-or-join.
	MomentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_moments_created_total",
		Help: "Number of moments created.",
	})

	// SweepExpired counts moments transitioned active -> expired.
	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_sweep_expired_total",
		Help: "Number of moments expired by the sweeper.",
	})

	// SweepPurged counts moments hard-purged with their dependents.
	SweepPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_sweep_purged_total",
		Help: "Number of moments purged by the sweeper.",
	})

	// SweepMessagesDeleted counts chat messages removed by ephemeral expiry.
	SweepMessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_sweep_messages_deleted_total",
		Help: "Number of expired chat messages deleted by the sweeper.",
	})

	// SweepParticipantsPruned counts participants dropped for inactivity.
	SweepParticipantsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_sweep_participants_pruned_total",
		Help: "Number of participants pruned for inactivity.",
	})

	// WSConnections tracks currently open websocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_ws_connections",
		Help: "Number of open websocket connections.",
	})

	// RoomBroadcasts counts events fanned out to rooms, by event name.
	RoomBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_room_broadcasts_total",
		Help: "Number of events broadcast to rooms.",
	}, []string{"event"})
)
