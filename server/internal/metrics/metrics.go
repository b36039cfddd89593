// Package metrics tracks hub and connection counters and exposes them as a
// Prometheus registry for the optional /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Hub bundles every gauge and counter the signaling hub reports. It is safe
// for concurrent use; every member is a Prometheus metric, which is itself
// concurrency-safe.
type Hub struct {
	Registry *prometheus.Registry

	ActiveClients prometheus.Gauge
	ActiveRooms   prometheus.Gauge

	ConnectionsTotal    prometheus.Counter
	AdmissionsRefused   prometheus.Counter
	UpgradeFailures     prometheus.Counter
	MessagesRouted      *prometheus.CounterVec
	MessagesDropped     prometheus.Counter
	ProtocolViolations  prometheus.Counter
	RoomsExpiredTotal   prometheus.Counter
}

// New constructs a Hub with all metrics registered against a fresh registry.
// A fresh registry (rather than prometheus.DefaultRegisterer) keeps repeated
// construction in tests free of "duplicate metrics collector" panics.
func New() *Hub {
	reg := prometheus.NewRegistry()

	h := &Hub{
		Registry: reg,
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wisp_active_clients",
			Help: "Number of clients currently registered with the hub.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wisp_active_rooms",
			Help: "Number of rooms currently present in the registry.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_connections_total",
			Help: "Total number of connections ever admitted and registered.",
		}),
		AdmissionsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_admissions_refused_total",
			Help: "Total number of upgrade requests refused by rate limiting or origin checks.",
		}),
		UpgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_upgrade_failures_total",
			Help: "Total number of HTTP upgrade attempts that failed after admission.",
		}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisp_messages_routed_total",
			Help: "Total number of messages routed, labeled by type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_messages_dropped_total",
			Help: "Total number of messages dropped because a recipient outbox was full or closed.",
		}),
		ProtocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_protocol_violations_total",
			Help: "Total number of malformed or invalid frames received from peers.",
		}),
		RoomsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_rooms_expired_total",
			Help: "Total number of rooms removed by the expiry sweeper.",
		}),
	}

	reg.MustRegister(
		h.ActiveClients,
		h.ActiveRooms,
		h.ConnectionsTotal,
		h.AdmissionsRefused,
		h.UpgradeFailures,
		h.MessagesRouted,
		h.MessagesDropped,
		h.ProtocolViolations,
		h.RoomsExpiredTotal,
	)

	return h
}
