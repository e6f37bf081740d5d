package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "transport_commands_total",
	Help: "Room commands sent by the websocket transport, by result",
}, []string{"type", "result"})
