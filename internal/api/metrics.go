package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
	metricTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_tokens_issued_total",
		Help: "Join credentials issued by provider",
	}, []string{"provider"})
)
