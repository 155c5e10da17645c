package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var (
	ridesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "ingest",
		Name:      "rides_total",
		Help:      "Provider activities processed grouped by provider and merge outcome.",
	}, []string{"provider", "outcome"})

	runsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingestion runs grouped by provider and result.",
	}, []string{"provider", "result"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ridesync",
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of ingestion runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"provider"})

	rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "ingest",
		Name:      "rate_limit_waits_total",
		Help:      "Pauses taken after a provider throttled a page request.",
	}, []string{"provider"})

	lastSuccessGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "ingest",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful ingestion run.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(ridesCounter, runsCounter, runDuration, rateLimitWaits, lastSuccessGauge)
}

func recordRide(p domain.Provider, outcome string) {
	ridesCounter.WithLabelValues(string(p), outcome).Inc()
}

func recordRun(p domain.Provider, result string, elapsed time.Duration, at time.Time) {
	runsCounter.WithLabelValues(string(p), result).Inc()
	if result == "in_progress" {
		return
	}
	runDuration.WithLabelValues(string(p)).Observe(elapsed.Seconds())
	if result == "success" && !at.IsZero() {
		lastSuccessGauge.WithLabelValues(string(p)).Set(float64(at.Unix()))
	}
}

func recordRateLimitWait(p domain.Provider) {
	rateLimitWaits.WithLabelValues(string(p)).Inc()
}
