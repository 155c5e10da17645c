package consumer

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/orchestrator"
)

type trigger struct {
	provider domain.Provider
	athlete  string
}

type stubSyncer struct {
	err      error
	triggers []trigger
}

func (s *stubSyncer) TriggerSyncForAthlete(_ context.Context, p domain.Provider, athleteID string) (orchestrator.Ack, error) {
	s.triggers = append(s.triggers, trigger{p, athleteID})
	if s.err != nil {
		return orchestrator.Ack{}, s.err
	}
	return orchestrator.Ack{Accepted: true}, nil
}

func TestWebhookHandlerTriggersSync(t *testing.T) {
	syncer := &stubSyncer{}
	h := NewWebhookHandler(syncer, log.New(testWriter{t}, "", 0))

	err := h.Handle(context.Background(), Message{Payload: []byte(`{"provider":"strava","owner_id":"42","object_type":"activity","object_id":"9","aspect_type":"create"}`)})
	require.NoError(t, err)
	err = h.Handle(context.Background(), Message{Payload: []byte(`{"provider":"ridewithgps","owner_id":"7","object_type":"trip","aspect_type":"update"}`)})
	require.NoError(t, err)

	require.Equal(t, []trigger{{domain.ProviderStrava, "42"}, {domain.ProviderRWGPS, "7"}}, syncer.triggers)
}

func TestWebhookHandlerDropsIrrelevantNotifications(t *testing.T) {
	syncer := &stubSyncer{}
	h := NewWebhookHandler(syncer, log.New(testWriter{t}, "", 0))

	payloads := []string{
		`not json`,
		`{"provider":"garmin","owner_id":"1"}`,
		`{"provider":"strava"}`,
		`{"provider":"strava","owner_id":"42","object_type":"athlete","aspect_type":"update"}`,
		`{"provider":"strava","owner_id":"42","object_type":"activity","aspect_type":"delete"}`,
	}
	for _, payload := range payloads {
		require.NoError(t, h.Handle(context.Background(), Message{Payload: []byte(payload)}), payload)
	}
	require.Empty(t, syncer.triggers)
}

func TestWebhookHandlerErrors(t *testing.T) {
	payload := []byte(`{"provider":"strava","owner_id":"42"}`)

	unmatched := NewWebhookHandler(&stubSyncer{err: domain.ErrProfileNotFound}, log.New(testWriter{t}, "", 0))
	require.NoError(t, unmatched.Handle(context.Background(), Message{Payload: payload}))

	storageErr := domain.WrapStorage("find profile", errors.New("connection reset"))
	failing := NewWebhookHandler(&stubSyncer{err: storageErr}, log.New(testWriter{t}, "", 0))
	err := failing.Handle(context.Background(), Message{Payload: payload})
	require.ErrorIs(t, err, storageErr)
}
