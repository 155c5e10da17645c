//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/orchestrator"
	"example.com/ridesync/internal/platform/events"
)

type athleteCall struct {
	provider  domain.Provider
	athleteID string
}

type channelSyncer struct {
	calls chan athleteCall
}

func (s channelSyncer) TriggerSyncForAthlete(ctx context.Context, p domain.Provider, providerAthleteID string) (orchestrator.Ack, error) {
	s.calls <- athleteCall{provider: p, athleteID: providerAthleteID}
	return orchestrator.Ack{Accepted: true}, nil
}

func TestKafkaWebhookTriggersAthleteSync(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	topic := "provider_webhooks"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "ridesync-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	syncer := channelSyncer{calls: make(chan athleteCall, 4)}
	proc := NewProcessor(reader, NewWebhookHandler(syncer, nil))

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ignored, err := json.Marshal(events.ProviderWebhook{Provider: "strava", OwnerID: "42", ObjectType: "athlete", AspectType: "update"})
	require.NoError(t, err)
	relevant, err := json.Marshal(events.ProviderWebhook{Provider: "strava", OwnerID: "42", ObjectType: "activity", ObjectID: "9001", AspectType: "create"})
	require.NoError(t, err)

	require.NoError(t, writer.WriteMessages(context.Background(),
		kafka.Message{Key: []byte("42"), Value: ignored},
		kafka.Message{Key: []byte("42"), Value: relevant},
	))

	select {
	case call := <-syncer.calls:
		require.Equal(t, athleteCall{provider: domain.ProviderStrava, athleteID: "42"}, call)
	case <-time.After(60 * time.Second):
		t.Fatal("webhook did not trigger a sync")
	}

	// The athlete-profile update is acknowledged without a sync.
	select {
	case call := <-syncer.calls:
		t.Fatalf("unexpected extra sync %+v", call)
	case <-time.After(500 * time.Millisecond):
	}
}
