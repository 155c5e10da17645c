package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/platform/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
	// PartitionKeyFn keys the Kafka message; events of one user share a partition so they stay ordered.
	PartitionKeyFn func(outboxEntry) string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeRideUpserted: {
		Topic:          "ride_events",
		SchemaSubject:  "ride_events-value",
		PartitionKeyFn: func(e outboxEntry) string { return e.UserID },
	},
	events.TypeComponentUsageRecalculated: {
		Topic:          "component_usage",
		SchemaSubject:  "component_usage-value",
		PartitionKeyFn: func(e outboxEntry) string { return e.AggregateID },
	},
	events.TypeSyncCompleted: {
		Topic:          "sync_events",
		SchemaSubject:  "sync_events-value",
		PartitionKeyFn: func(e outboxEntry) string { return e.UserID },
	},
}

type outboxEntry struct {
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	// Version distinguishes successive events of one aggregate in the dedupe key.
	Version time.Time
	Payload interface{}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, entry outboxEntry) error {
	body, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[entry.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", entry.EventType)
	}
	dedupeKey := fmt.Sprintf("%s:%s:%d", entry.AggregateID, entry.EventType, entry.Version.UnixNano())

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		entry.UserID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(entry),
		body,
		dedupeKey,
	)
	return err
}

// RecordSyncCompleted implements domain.SyncEventRecorder.
func (r *Repository) RecordSyncCompleted(ctx context.Context, state domain.SyncState) error {
	occurredAt := state.LastSyncAt
	if occurredAt.IsZero() || state.LastError != "" {
		occurredAt = time.Now().UTC()
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return insertOutbox(ctx, tx, outboxEntry{
			UserID:        state.UserID,
			AggregateType: "sync",
			AggregateID:   domain.CredentialKey{UserID: state.UserID, Provider: state.Provider}.String(),
			EventType:     events.TypeSyncCompleted,
			Version:       occurredAt,
			Payload: events.SyncCompleted{
				UserID:            state.UserID,
				Provider:          string(state.Provider),
				RidesAdded:        state.LastResult.RidesAdded,
				RidesUpdated:      state.LastResult.RidesUpdated,
				DuplicatesSkipped: state.LastResult.DuplicatesSkipped,
				Reconciled:        state.LastResult.Reconciled,
				Flagged:           state.LastResult.Flagged,
				Malformed:         state.LastResult.Malformed,
				Error:             state.LastError,
				OccurredAt:        occurredAt,
			},
		})
	})
}
