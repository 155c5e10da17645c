package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var (
	refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "scheduler",
		Name:      "refreshes_total",
		Help:      "Credential refresh attempts grouped by provider and outcome.",
	}, []string{"provider", "outcome"})

	sweepCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "scheduler",
		Name:      "sweeps_total",
		Help:      "Refresh sweeps grouped by result.",
	}, []string{"result"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ridesync",
		Subsystem: "scheduler",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of refresh sweeps.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(refreshCounter, sweepCounter, sweepDuration)
}

func recordRefresh(p domain.Provider, outcome string) {
	refreshCounter.WithLabelValues(string(p), outcome).Inc()
}

func recordSweep(result string, elapsed time.Duration) {
	sweepCounter.WithLabelValues(result).Inc()
	if result == "success" {
		sweepDuration.Observe(elapsed.Seconds())
	}
}
