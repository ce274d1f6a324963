package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the dialog subsystem.
type Metrics struct {
	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	MessagesPersisted prometheus.Counter
	FramesRejected    *prometheus.CounterVec
	BroadcastDenied   prometheus.Counter
	SessionsCreated   prometheus.Counter
	SessionsRotated   prometheus.Counter
	SessionsRevoked   prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialog",
			Name:      "rooms_active",
			Help:      "Rooms with at least one live connection.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialog",
			Name:      "connections_active",
			Help:      "Live websocket connections attached to rooms.",
		}),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "messages_persisted_total",
			Help:      "Messages committed from live connections.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "frames_rejected_total",
			Help:      "Inbound frames answered with an error frame.",
		}, []string{"reason"}),
		BroadcastDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "broadcast_denied_total",
			Help:      "Connections closed at send time because their access token expired.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "created_total",
			Help:      "Sessions created at sign-in.",
		}),
		SessionsRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "rotated_total",
			Help:      "Refresh token rotations.",
		}),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "revoked_total",
			Help:      "Sessions revoked at logout.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RoomsActive,
			m.ConnectionsActive,
			m.MessagesPersisted,
			m.FramesRejected,
			m.BroadcastDenied,
			m.SessionsCreated,
			m.SessionsRotated,
			m.SessionsRevoked,
		)
	}
	return m
}
