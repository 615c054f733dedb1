package wiser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tagsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiser_tags_received_total",
		Help: "Tags read from the control connection, by tag name.",
	}, []string{"tag"})

	groupEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiser_group_events_total",
		Help: "Group set events emitted, by kind (live or scan).",
	}, []string{"kind"})

	commandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiser_commands_sent_total",
		Help: "Commands written to the control connection.",
	})

	commandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiser_commands_dropped_total",
		Help: "Commands dropped because no connection was available.",
	})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiser_reconnects_total",
		Help: "Connection attempts scheduled after a failure.",
	})

	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wiser_connected",
		Help: "1 when the control connection is established.",
	})
)
