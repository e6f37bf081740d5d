package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retries_total",
		Help: "Upstream calls retried after a failure",
	}, []string{"op"})

	metricExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retries_exhausted_total",
		Help: "Upstream calls that failed after every allowed attempt",
	}, []string{"op"})
)
