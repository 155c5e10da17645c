package domain

import "time"

// SyncStatus is the coarse state of a (user, provider) ingestion.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "IDLE"
	SyncStatusRunning SyncStatus = "RUNNING"
)

// SyncState tracks the latest ingestion outcome for a (user, provider) pair.
type SyncState struct {
	UserID     string
	Provider   Provider
	Status     SyncStatus
	StartedAt  time.Time
	LastSyncAt time.Time
	LastError  string
	LastResult IngestResult
}

// IngestResult summarises one ingestion run.
type IngestResult struct {
	RidesAdded        int
	RidesUpdated      int
	DuplicatesSkipped int
	Reconciled        int
	Flagged           int
	Malformed         int
	Pages             int
}

// RawActivity is the tagged union of provider wire activities. Exactly one of the
// provider payloads is set, matching Provider.
type RawActivity struct {
	Provider Provider
	Strava   *StravaActivity
	RWGPS    *RWGPSTrip
}

// StravaActivity mirrors the Strava SummaryActivity fields used by the ledger.
type StravaActivity struct {
	ID         int64   `json:"id"`
	ExternalID *string `json:"external_id"`
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
	MovingTime int64   `json:"moving_time"`
	StartDate  string  `json:"start_date"`
	GearID     *string `json:"gear_id"`
	Type       string  `json:"type"`
	SportType  string  `json:"sport_type"`
	Trainer    bool    `json:"trainer"`
	Commute    bool    `json:"commute"`
	Athlete    struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// RWGPSTrip mirrors the Ride with GPS trip summary fields used by the ledger.
type RWGPSTrip struct {
	ID             int64   `json:"id"`
	UserID         int64   `json:"user_id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Distance       float64 `json:"distance"`
	MovingTime     float64 `json:"moving_time"`
	DepartedAt     string  `json:"departed_at"`
	GearID         *int64  `json:"gear_id"`
	ActivityTypeID *int64  `json:"activity_type_id"`
	IsStationary   bool    `json:"is_stationary"`
}

// ActivityPage is one page of provider activities. Next is empty when the provider has no more data.
type ActivityPage struct {
	Items     []RawActivity
	Malformed []MalformedDataError
	Next      string
}
