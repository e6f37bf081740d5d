package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_state_transitions_total",
		Help: "Call session state transitions",
	}, []string{"from", "to"})

	metricJoinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_join_failures_total",
		Help: "Failed join attempts by stage",
	}, []string{"stage"})

	metricStaleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_stale_completions_total",
		Help: "Async completions dropped because the call had moved on",
	})

	metricControlFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_control_failures_total",
		Help: "Failed mute and device control operations",
	}, []string{"op"})

	metricParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_participants",
		Help: "Participants in the current call",
	})
)
