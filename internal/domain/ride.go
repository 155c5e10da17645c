package domain

import (
	"strings"
	"time"
)

// Provider identifies an external ride-tracking service.
type Provider string

const (
	ProviderStrava Provider = "strava"
	ProviderRWGPS  Provider = "rwgps"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderStrava, ProviderRWGPS}

// ParseProvider resolves a provider from user input, case-insensitively.
func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderStrava:
		return ProviderStrava, true
	case ProviderRWGPS, "ridewithgps":
		return ProviderRWGPS, true
	}
	return "", false
}

// Ride is the canonical, provider-agnostic activity record.
type Ride struct {
	InternalID     string
	UserID         string
	Provider       Provider
	ProviderRideID string
	ExternalID     string
	AthleteID      string
	Title          string
	Description    string
	Distance       float64 // meters
	MovingTime     int64   // seconds
	StartDate      time.Time
	GearID         string
	ActivityType   string
	SportType      string
	IsTrainer      bool
	IsCommute      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the ledger uniqueness key.
func (r Ride) Key() RideKey {
	return RideKey{Provider: r.Provider, ProviderRideID: r.ProviderRideID}
}

// RideKey is the (provider, providerRideId) uniqueness key of the ride ledger.
type RideKey struct {
	Provider       Provider
	ProviderRideID string
}

// MateriallyDiffers reports whether incoming data should overwrite the stored ride.
// Only distance, moving time and title count; cosmetic fields never trigger a write.
func (r Ride) MateriallyDiffers(other Ride) bool {
	return r.Distance != other.Distance ||
		r.MovingTime != other.MovingTime ||
		r.Title != other.Title
}

// RideCursor models the pagination token for ride listings.
type RideCursor struct {
	StartDate time.Time
	ID        string
}

// RideStats is the cumulative summary of a user's rides.
type RideStats struct {
	TotalRides    int
	TotalDistance float64
	TotalTime     int64
}

// ReviewFlag records a cross-provider match that was too weak to reconcile automatically.
type ReviewFlag struct {
	ID              string
	UserID          string
	Provider        Provider
	ProviderRideID  string
	MatchedProvider Provider
	MatchedRideID   string
	MatchedExternal string
	Reason          string
	CreatedAt       time.Time
}
