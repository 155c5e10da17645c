// Package observability instruments the HTTP surface and exposes service watermarks.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ridesync",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "sync",
		Name:      "last_sync_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent background sync to finish.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, lastSyncGauge)
}

// Instrument wraps handler with request count and latency collectors labelled by route.
func Instrument(route string, handler http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	counter := httpRequests.MustCurryWith(labels)
	duration := httpDuration.MustCurryWith(labels)
	return promhttp.InstrumentHandlerDuration(duration, promhttp.InstrumentHandlerCounter(counter, handler))
}

// RecordSyncCompleted updates the sync watermark gauge.
func RecordSyncCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}
