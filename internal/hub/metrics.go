package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connections",
		Help: "Open room websocket connections",
	})
	metricRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_rooms",
		Help: "Rooms with at least one member",
	})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_messages_total",
		Help: "Websocket messages by direction and type",
	}, []string{"dir", "type"})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_rejected_total",
		Help: "Rejected websocket joins by reason",
	}, []string{"reason"})
)
