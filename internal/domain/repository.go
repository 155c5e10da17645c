// Package domain defines the ride ledger model, its error taxonomy and the storage contracts
// used by the synchronization engine.
package domain

import (
	"context"
	"time"
)

// CredentialRepository persists sealed credentials. Implementations never see plaintext tokens.
type CredentialRepository interface {
	GetCredential(ctx context.Context, key CredentialKey) (*SealedCredential, error)
	PutCredential(ctx context.Context, cred SealedCredential) error
	DeleteCredential(ctx context.Context, key CredentialKey) error
	ListCredentialsExpiringBefore(ctx context.Context, t time.Time) ([]SealedCredential, error)
}

// ProfileRepository persists athlete profiles keyed by the provider identity.
type ProfileRepository interface {
	UpsertProfile(ctx context.Context, profile AthleteProfile) (*AthleteProfile, error)
	GetActiveProfile(ctx context.Context, userID string, provider Provider) (*AthleteProfile, error)
	FindProfileByAthlete(ctx context.Context, provider Provider, providerAthleteID string) (*AthleteProfile, error)
	DeleteProfiles(ctx context.Context, userID string, provider Provider) error
}

// RideRepository is the canonical ride ledger.
type RideRepository interface {
	// GetRide returns nil without error when no ride has the key.
	GetRide(ctx context.Context, key RideKey) (*Ride, error)
	// UpsertRide inserts or updates on the (provider, providerRideId) unique key and returns the stored row.
	UpsertRide(ctx context.Context, ride Ride) (*Ride, error)
	// FindRidesByProviderRideID returns rides of the user from providers other than exclude with the given id.
	FindRidesByProviderRideID(ctx context.Context, userID string, exclude Provider, providerRideID string) ([]Ride, error)
	// FindRidesByExternalFragment returns rides of the user from providers other than exclude whose
	// external id contains fragment.
	FindRidesByExternalFragment(ctx context.Context, userID string, exclude Provider, fragment string) ([]Ride, error)
	// ListRidesInRange returns rides with start date in the half-open interval [from, to).
	ListRidesInRange(ctx context.Context, userID string, from, to time.Time) ([]Ride, error)
	ListRidesByUser(ctx context.Context, userID string, cursor *RideCursor, limit int) ([]Ride, *RideCursor, error)
	RideStats(ctx context.Context, userID string) (RideStats, error)
	FlagForReview(ctx context.Context, flag ReviewFlag) error
}

// ComponentRepository reads components and writes their derived usage fields.
type ComponentRepository interface {
	GetComponent(ctx context.Context, userID, componentID string) (*Component, error)
	ListComponents(ctx context.Context, userID string) ([]Component, error)
	UpdateUsage(ctx context.Context, userID, componentID string, usage Usage, at time.Time) (*Component, error)
}

// SyncEventRecorder records the outcome of an ingestion run for downstream consumers.
type SyncEventRecorder interface {
	RecordSyncCompleted(ctx context.Context, state SyncState) error
}
