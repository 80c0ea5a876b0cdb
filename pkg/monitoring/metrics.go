package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-wide metrics on the default registry, exposed by the debug
// server when metrics are enabled.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxmesh",
		Name:      "active_sessions",
		Help:      "Open peer sessions.",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxmesh",
		Name:      "reconnect_attempts_total",
		Help:      "Signaling transport reconnect attempts.",
	})
	ScreenTier = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxmesh",
		Name:      "screen_share_tier",
		Help:      "Bandwidth tier of the running screen share, -1 when off.",
	})
	SpeakingFlips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxmesh",
		Name:      "speaking_transitions_total",
		Help:      "Voice activity on and off transitions.",
	})
)
