package daily

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "daily_requests_total",
	Help: "Daily API requests by path and result",
}, []string{"path", "result"})
