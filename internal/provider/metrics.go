package provider

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider API calls grouped by provider, endpoint and outcome.",
	}, []string{"provider", "endpoint", "outcome"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ridesync",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Latency of provider API calls.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "provider",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per provider API (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration, breakerState)
}

func recordRequest(p domain.Provider, endpoint string, err error, elapsed time.Duration) {
	requestDuration.WithLabelValues(string(p)).Observe(elapsed.Seconds())
	requestCounter.WithLabelValues(string(p), endpoint, outcome(err)).Inc()
}

func outcome(err error) string {
	var rl *domain.RateLimitedError
	var ar *domain.AuthRefreshError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &ar):
		return "unauthorized"
	}
	return "error"
}
