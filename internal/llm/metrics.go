package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swe_orch_llm_requests_total",
		Help: "Chat completion attempts by outcome",
	}, []string{"outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swe_orch_llm_tokens_total",
		Help: "Tokens consumed by kind",
	}, []string{"kind"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swe_orch_llm_request_duration_seconds",
		Help:    "Latency of single chat completion attempts",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
