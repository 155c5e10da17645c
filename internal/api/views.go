package api

import (
	"errors"
	"strings"
	"time"

	"example.com/ridesync/internal/domain"
)

// ExchangeRequest is the payload for POST /v1/integrations/{provider}/exchange.
type ExchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// Validate ensures request correctness.
func (r ExchangeRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return errors.New("code is required")
	}
	return nil
}

// AuthorizeResponse carries the provider consent URL.
type AuthorizeResponse struct {
	URL string `json:"url"`
}

// SyncStateView exposes the last known sync outcome.
type SyncStateView struct {
	Provider   string         `json:"provider"`
	Status     string         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	LastSyncAt *time.Time     `json:"last_sync_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	LastResult IngestionStats `json:"last_result"`
}

// IngestionStats mirrors domain.IngestResult.
type IngestionStats struct {
	RidesAdded        int `json:"rides_added"`
	RidesUpdated      int `json:"rides_updated"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
	Reconciled        int `json:"reconciled"`
	Flagged           int `json:"flagged_for_review"`
	Malformed         int `json:"malformed"`
	Pages             int `json:"pages"`
}

// AthleteProfileView exposes the connected provider account.
type AthleteProfileView struct {
	Provider          string `json:"provider"`
	ProviderAthleteID string `json:"provider_athlete_id"`
	Name              string `json:"name"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	Country           string `json:"country,omitempty"`
}

// RideView exposes a ledger entry.
type RideView struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	ProviderRideID string    `json:"provider_ride_id"`
	Title          string    `json:"title"`
	Distance       float64   `json:"distance_m"`
	MovingTime     int64     `json:"moving_time_s"`
	StartDate      time.Time `json:"start_date"`
	GearID         string    `json:"gear_id,omitempty"`
	ActivityType   string    `json:"activity_type"`
	SportType      string    `json:"sport_type"`
	IsTrainer      bool      `json:"trainer"`
	IsCommute      bool      `json:"commute"`
}

// ListRidesResponse packages list results.
type ListRidesResponse struct {
	Items      []RideView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// RideStatsView is the cumulative summary of the caller's rides.
type RideStatsView struct {
	TotalRides    int     `json:"total_rides"`
	TotalDistance float64 `json:"total_distance_m"`
	TotalTime     int64   `json:"total_time_s"`
}

// ComponentView exposes a component with its derived usage.
type ComponentView struct {
	ID            string     `json:"id"`
	Category      string     `json:"category"`
	Name          string     `json:"name"`
	InstallDate   time.Time  `json:"install_date"`
	UninstallDate *time.Time `json:"uninstall_date,omitempty"`
	TotalRides    int        `json:"total_rides"`
	TotalDistance float64    `json:"total_distance_m"`
	TotalTime     int64      `json:"total_time_s"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toSyncStateView(s domain.SyncState) SyncStateView {
	return SyncStateView{
		Provider:   string(s.Provider),
		Status:     string(s.Status),
		StartedAt:  optionalTime(s.StartedAt),
		LastSyncAt: optionalTime(s.LastSyncAt),
		LastError:  s.LastError,
		LastResult: IngestionStats{
			RidesAdded:        s.LastResult.RidesAdded,
			RidesUpdated:      s.LastResult.RidesUpdated,
			DuplicatesSkipped: s.LastResult.DuplicatesSkipped,
			Reconciled:        s.LastResult.Reconciled,
			Flagged:           s.LastResult.Flagged,
			Malformed:         s.LastResult.Malformed,
			Pages:             s.LastResult.Pages,
		},
	}
}

func toProfileView(p domain.AthleteProfile) AthleteProfileView {
	return AthleteProfileView{
		Provider:          string(p.Provider),
		ProviderAthleteID: p.ProviderAthleteID,
		Name:              p.Name(),
		City:              p.City,
		State:             p.State,
		Country:           p.Country,
	}
}

func toRideView(r domain.Ride) RideView {
	return RideView{
		ID:             r.InternalID,
		Provider:       string(r.Provider),
		ProviderRideID: r.ProviderRideID,
		Title:          r.Title,
		Distance:       r.Distance,
		MovingTime:     r.MovingTime,
		StartDate:      r.StartDate,
		GearID:         r.GearID,
		ActivityType:   r.ActivityType,
		SportType:      r.SportType,
		IsTrainer:      r.IsTrainer,
		IsCommute:      r.IsCommute,
	}
}

func toComponentView(c domain.Component) ComponentView {
	return ComponentView{
		ID:            c.ID,
		Category:      c.Category,
		Name:          c.Name,
		InstallDate:   c.InstallDate,
		UninstallDate: c.UninstallDate,
		TotalRides:    c.TotalRides,
		TotalDistance: c.TotalDistance,
		TotalTime:     c.TotalTime,
		UpdatedAt:     c.UpdatedAt,
	}
}
