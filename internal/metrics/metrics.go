// Package metrics holds the prometheus collectors for the realtime layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Emit outcomes.
const (
	OutcomeDelivered   = "delivered"
	OutcomeNoRecipient = "no_recipient"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

type Collectors struct {
	ConnectionsActive    prometheus.Gauge
	InboundEvents        *prometheus.CounterVec
	InboundRejected      *prometheus.CounterVec
	OutboundMessages     *prometheus.CounterVec
	SendsDropped         prometheus.Counter
	NotificationsEmitted *prometheus.CounterVec
	BrokerBootstraps     prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "teamflow_connections_active",
			Help: "Socket connections currently attached to the broker",
		}),
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teamflow_inbound_events_total",
			Help: "Accepted client events by name",
		}, []string{"event"}),
		InboundRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teamflow_inbound_rejected_total",
			Help: "Client frames rejected at the protocol boundary",
		}, []string{"reason"}),
		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teamflow_outbound_messages_total",
			Help: "Messages handed to connections by event name",
		}, []string{"event"}),
		SendsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "teamflow_sends_dropped_total",
			Help: "Messages dropped because a connection buffer was full or closed",
		}),
		NotificationsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teamflow_notifications_emitted_total",
			Help: "Live notification pushes by outcome",
		}, []string{"outcome"}),
		BrokerBootstraps: f.NewCounter(prometheus.CounterOpts{
			Name: "teamflow_broker_bootstraps_total",
			Help: "Broker instances constructed",
		}),
	}
}
