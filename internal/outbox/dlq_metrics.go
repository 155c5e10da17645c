package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	dlqOutcomeProcessed   = "processed"
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeQuarantined = "quarantined"
	dlqOutcomeRetry       = "retry_scheduled"
)

var (
	dlqEntriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "Dead-lettered outbox rows handled by the replay manager, by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "Dead-lettered rows still eligible for replay.",
	})
)

func init() {
	prometheus.MustRegister(dlqEntriesCounter, dlqBacklogGauge)
}

func recordDLQ(entry dlqEntry, outcome string) {
	dlqEntriesCounter.WithLabelValues(entry.Topic, entry.EventType, outcome).Inc()
}

func recordDLQProcessed(entry dlqEntry)   { recordDLQ(entry, dlqOutcomeProcessed) }
func recordDLQRequeued(entry dlqEntry)    { recordDLQ(entry, dlqOutcomeRequeued) }
func recordDLQQuarantined(entry dlqEntry) { recordDLQ(entry, dlqOutcomeQuarantined) }
func recordDLQRetry(entry dlqEntry)       { recordDLQ(entry, dlqOutcomeRetry) }

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var backlog int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&backlog); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(backlog))
}
