package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka records read, by topic, event type and outcome (handled, handler_error, undecodable).",
	}, []string{"topic", "event_type", "outcome"})

	lagGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "consumer",
		Name:      "last_handled_timestamp_seconds",
		Help:      "Produce time of the newest record handled per topic.",
	}, []string{"topic"})

	webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "consumer",
		Name:      "webhooks_total",
		Help:      "Provider webhooks by provider and outcome.",
	}, []string{"provider", "outcome"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lagGauge, webhookCounter)
}

func recordProcessed(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, "handled").Inc()
	if !msg.Timestamp.IsZero() {
		lagGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, "handler_error").Inc()
}

func recordDecodeError(topic string) {
	messagesCounter.WithLabelValues(topic, "", "undecodable").Inc()
}

func recordWebhook(provider, outcome string) {
	webhookCounter.WithLabelValues(provider, outcome).Inc()
}
