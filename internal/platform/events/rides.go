// Package events defines the payloads published to, and consumed from, Kafka.
package events

import "time"

// Event types written to the outbox.
const (
	TypeRideUpserted               = "ride.upserted"
	TypeComponentUsageRecalculated = "component.usage_recalculated"
	TypeSyncCompleted              = "sync.completed"
)

// RideUpserted is emitted whenever a ride is inserted or materially updated in the ledger.
type RideUpserted struct {
	RideID         string    `json:"ride_id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	ProviderRideID string    `json:"provider_ride_id"`
	StartDate      time.Time `json:"start_date"`
	Distance       float64   `json:"distance_m"`
	MovingTime     int64     `json:"moving_time_s"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ComponentUsageRecalculated carries the new derived usage of a component.
type ComponentUsageRecalculated struct {
	ComponentID   string    `json:"component_id"`
	UserID        string    `json:"user_id"`
	TotalRides    int       `json:"total_rides"`
	TotalDistance float64   `json:"total_distance_m"`
	TotalTime     int64     `json:"total_time_s"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SyncCompleted summarises one background sync for downstream consumers.
type SyncCompleted struct {
	UserID            string    `json:"user_id"`
	Provider          string    `json:"provider"`
	RidesAdded        int       `json:"rides_added"`
	RidesUpdated      int       `json:"rides_updated"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	Reconciled        int       `json:"reconciled"`
	Flagged           int       `json:"flagged"`
	Malformed         int       `json:"malformed"`
	Error             string    `json:"error,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}
