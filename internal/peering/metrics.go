package peering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of prometheus collectors the Engine updates as
// sessions open, close, and fail, grounded on the counter/gauge shape
// telemetry/flow-enricher/internal/flow-enricher/metrics.go uses.
type Metrics struct {
	SessionsOpen    prometheus.Gauge
	DialFailures    prometheus.Counter
	AuthFailures    prometheus.Counter
	HeartbeatSent   prometheus.Counter
	ReconnectsTotal prometheus.Counter
}

// NewMetrics registers peering collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalyst_peering_sessions_open",
			Help: "Number of peer sessions currently in the open state",
		}),
		DialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalyst_peering_dial_failures_total",
			Help: "Total number of failed outbound dial attempts",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalyst_peering_auth_failures_total",
			Help: "Total number of handshake auth failures",
		}),
		HeartbeatSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalyst_peering_heartbeats_sent_total",
			Help: "Total number of heartbeat messages sent",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalyst_peering_reconnects_total",
			Help: "Total number of reconnect attempts after a session closed",
		}),
	}
}
