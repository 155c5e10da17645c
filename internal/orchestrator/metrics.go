package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var (
	triggerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "orchestrator",
		Name:      "sync_requests_total",
		Help:      "Sync requests grouped by provider and answer.",
	}, []string{"provider", "result"})

	completionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "orchestrator",
		Name:      "syncs_total",
		Help:      "Background syncs grouped by provider and outcome.",
	}, []string{"provider", "outcome"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ridesync",
		Subsystem: "orchestrator",
		Name:      "sync_duration_seconds",
		Help:      "Duration of background ingest plus recalculation.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"provider"})

	inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "orchestrator",
		Name:      "syncs_in_flight",
		Help:      "Background syncs holding a worker slot.",
	})

	exchangeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "orchestrator",
		Name:      "oauth_exchanges_total",
		Help:      "Authorization code exchanges grouped by provider and outcome.",
	}, []string{"provider", "outcome"})
)

func init() {
	prometheus.MustRegister(triggerCounter, completionCounter, syncDuration, inflight, exchangeCounter)
}

func recordTrigger(p domain.Provider, result string) {
	triggerCounter.WithLabelValues(string(p), result).Inc()
}

func recordCompletion(p domain.Provider, outcome string, elapsed time.Duration) {
	completionCounter.WithLabelValues(string(p), outcome).Inc()
	syncDuration.WithLabelValues(string(p)).Observe(elapsed.Seconds())
}

func recordExchange(p domain.Provider, outcome string) {
	exchangeCounter.WithLabelValues(string(p), outcome).Inc()
}
