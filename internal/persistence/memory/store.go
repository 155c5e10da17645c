// Package memory keeps the ride ledger and its collaborators in process memory for local
// development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/ridesync/internal/domain"
)

// Store implements every repository contract of the domain package behind one lock.
type Store struct {
	mu          sync.RWMutex
	credentials map[domain.CredentialKey]domain.SealedCredential
	profiles    map[profileKey]domain.AthleteProfile
	rides       map[domain.RideKey]domain.Ride
	components  map[string]domain.Component
	flags       map[string]domain.ReviewFlag
	syncEvents  []domain.SyncState
	now         func() time.Time
}

type profileKey struct {
	provider  domain.Provider
	athleteID string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		credentials: make(map[domain.CredentialKey]domain.SealedCredential),
		profiles:    make(map[profileKey]domain.AthleteProfile),
		rides:       make(map[domain.RideKey]domain.Ride),
		components:  make(map[string]domain.Component),
		flags:       make(map[string]domain.ReviewFlag),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetCredential implements domain.CredentialRepository.
func (s *Store) GetCredential(ctx context.Context, key domain.CredentialKey) (*domain.SealedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[key]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &cred, nil
}

// PutCredential implements domain.CredentialRepository.
func (s *Store) PutCredential(ctx context.Context, cred domain.SealedCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[domain.CredentialKey{UserID: cred.UserID, Provider: cred.Provider}] = cred
	return nil
}

// DeleteCredential implements domain.CredentialRepository.
func (s *Store) DeleteCredential(ctx context.Context, key domain.CredentialKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, key)
	return nil
}

// ListCredentialsExpiringBefore implements domain.CredentialRepository.
func (s *Store) ListCredentialsExpiringBefore(ctx context.Context, t time.Time) ([]domain.SealedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SealedCredential, 0)
	for _, cred := range s.credentials {
		if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.Before(t) {
			out = append(out, cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// UpsertProfile implements domain.ProfileRepository. Profiles are keyed by provider identity.
func (s *Store) UpsertProfile(ctx context.Context, profile domain.AthleteProfile) (*domain.AthleteProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := profileKey{provider: profile.Provider, athleteID: profile.ProviderAthleteID}
	if existing, ok := s.profiles[key]; ok {
		profile.CreatedAt = existing.CreatedAt
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	// Strictly increasing so the most recent upsert wins the active association.
	profile.UpdatedAt = now
	for _, other := range s.profiles {
		if other.UserID == profile.UserID && other.Provider == profile.Provider && !profile.UpdatedAt.After(other.UpdatedAt) {
			profile.UpdatedAt = other.UpdatedAt.Add(time.Nanosecond)
		}
	}
	s.profiles[key] = profile
	return &profile, nil
}

// GetActiveProfile implements domain.ProfileRepository.
func (s *Store) GetActiveProfile(ctx context.Context, userID string, provider domain.Provider) (*domain.AthleteProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *domain.AthleteProfile
	for _, profile := range s.profiles {
		if profile.UserID != userID || profile.Provider != provider {
			continue
		}
		if active == nil || profile.UpdatedAt.After(active.UpdatedAt) {
			p := profile
			active = &p
		}
	}
	if active == nil {
		return nil, domain.ErrProfileNotFound
	}
	return active, nil
}

// FindProfileByAthlete implements domain.ProfileRepository.
func (s *Store) FindProfileByAthlete(ctx context.Context, provider domain.Provider, providerAthleteID string) (*domain.AthleteProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[profileKey{provider: provider, athleteID: providerAthleteID}]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &profile, nil
}

// DeleteProfiles implements domain.ProfileRepository.
func (s *Store) DeleteProfiles(ctx context.Context, userID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, profile := range s.profiles {
		if profile.UserID == userID && profile.Provider == provider {
			delete(s.profiles, key)
		}
	}
	return nil
}

// GetRide implements domain.RideRepository.
func (s *Store) GetRide(ctx context.Context, key domain.RideKey) (*domain.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ride, ok := s.rides[key]
	if !ok {
		return nil, nil
	}
	return &ride, nil
}

// UpsertRide implements domain.RideRepository.
func (s *Store) UpsertRide(ctx context.Context, ride domain.Ride) (*domain.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := ride.Key()
	if existing, ok := s.rides[key]; ok {
		ride.InternalID = existing.InternalID
		ride.CreatedAt = existing.CreatedAt
	}
	if strings.TrimSpace(ride.InternalID) == "" {
		ride.InternalID = uuid.NewString()
	}
	if ride.CreatedAt.IsZero() {
		ride.CreatedAt = now
	}
	ride.UpdatedAt = now
	s.rides[key] = ride
	return &ride, nil
}

// FindRidesByProviderRideID implements domain.RideRepository.
func (s *Store) FindRidesByProviderRideID(ctx context.Context, userID string, exclude domain.Provider, providerRideID string) ([]domain.Ride, error) {
	return s.filterRides(func(r domain.Ride) bool {
		return r.UserID == userID && r.Provider != exclude && r.ProviderRideID == providerRideID
	}), nil
}

// FindRidesByExternalFragment implements domain.RideRepository.
func (s *Store) FindRidesByExternalFragment(ctx context.Context, userID string, exclude domain.Provider, fragment string) ([]domain.Ride, error) {
	fragment = strings.ToLower(fragment)
	return s.filterRides(func(r domain.Ride) bool {
		return r.UserID == userID && r.Provider != exclude && r.ExternalID != "" &&
			strings.Contains(strings.ToLower(r.ExternalID), fragment)
	}), nil
}

// ListRidesInRange implements domain.RideRepository.
func (s *Store) ListRidesInRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Ride, error) {
	out := s.filterRides(func(r domain.Ride) bool {
		return r.UserID == userID && !r.StartDate.Before(from) && r.StartDate.Before(to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// ListRidesByUser implements domain.RideRepository, newest first.
func (s *Store) ListRidesByUser(ctx context.Context, userID string, cursor *domain.RideCursor, limit int) ([]domain.Ride, *domain.RideCursor, error) {
	rides := s.filterRides(func(r domain.Ride) bool {
		if r.UserID != userID {
			return false
		}
		if cursor == nil {
			return true
		}
		return r.StartDate.Before(cursor.StartDate) ||
			(r.StartDate.Equal(cursor.StartDate) && r.InternalID < cursor.ID)
	})
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].StartDate.Equal(rides[j].StartDate) {
			return rides[i].StartDate.After(rides[j].StartDate)
		}
		return rides[i].InternalID > rides[j].InternalID
	})
	if limit > 0 && len(rides) > limit {
		rides = rides[:limit]
	}

	var next *domain.RideCursor
	if limit > 0 && len(rides) == limit {
		last := rides[len(rides)-1]
		next = &domain.RideCursor{StartDate: last.StartDate, ID: last.InternalID}
	}
	return rides, next, nil
}

// RideStats implements domain.RideRepository.
func (s *Store) RideStats(ctx context.Context, userID string) (domain.RideStats, error) {
	var stats domain.RideStats
	for _, r := range s.filterRides(func(r domain.Ride) bool { return r.UserID == userID }) {
		stats.TotalRides++
		stats.TotalDistance += r.Distance
		stats.TotalTime += r.MovingTime
	}
	return stats, nil
}

// FlagForReview implements domain.RideRepository. Re-flagging the same pair is a no-op.
func (s *Store) FlagForReview(ctx context.Context, flag domain.ReviewFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(flag.Provider) + ":" + flag.ProviderRideID + ":" + string(flag.MatchedProvider) + ":" + flag.MatchedRideID
	if _, ok := s.flags[key]; ok {
		return nil
	}
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = s.now()
	}
	s.flags[key] = flag
	return nil
}

// ReviewFlags returns the recorded review flags for a user.
func (s *Store) ReviewFlags(userID string) []domain.ReviewFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReviewFlag, 0)
	for _, flag := range s.flags {
		if flag.UserID == userID {
			out = append(out, flag)
		}
	}
	return out
}

// PutComponent stores a component. Components are owned by the surrounding CRUD application;
// this exists to seed local runs and tests.
func (s *Store) PutComponent(component domain.Component) domain.Component {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(component.ID) == "" {
		component.ID = uuid.NewString()
	}
	s.components[component.ID] = component
	return component
}

// GetComponent implements domain.ComponentRepository.
func (s *Store) GetComponent(ctx context.Context, userID, componentID string) (*domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	component, ok := s.components[componentID]
	if !ok || component.UserID != userID {
		return nil, domain.ErrComponentNotFound
	}
	return &component, nil
}

// ListComponents implements domain.ComponentRepository.
func (s *Store) ListComponents(ctx context.Context, userID string) ([]domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Component, 0)
	for _, component := range s.components {
		if component.UserID == userID {
			out = append(out, component)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateUsage implements domain.ComponentRepository.
func (s *Store) UpdateUsage(ctx context.Context, userID, componentID string, usage domain.Usage, at time.Time) (*domain.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	component, ok := s.components[componentID]
	if !ok || component.UserID != userID {
		return nil, domain.ErrComponentNotFound
	}
	component.TotalRides = usage.TotalRides
	component.TotalDistance = usage.TotalDistance
	component.TotalTime = usage.TotalTime
	component.UpdatedAt = at
	s.components[componentID] = component
	return &component, nil
}

// RecordSyncCompleted implements domain.SyncEventRecorder.
func (s *Store) RecordSyncCompleted(ctx context.Context, state domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncEvents = append(s.syncEvents, state)
	return nil
}

// SyncEvents returns the recorded sync completions in order.
func (s *Store) SyncEvents() []domain.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SyncState, len(s.syncEvents))
	copy(out, s.syncEvents)
	return out
}

// RideCount returns the number of rides stored for a user.
func (s *Store) RideCount(userID string) int {
	return len(s.filterRides(func(r domain.Ride) bool { return r.UserID == userID }))
}

func (s *Store) filterRides(keep func(domain.Ride) bool) []domain.Ride {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Ride, 0)
	for _, ride := range s.rides {
		if keep(ride) {
			out = append(out, ride)
		}
	}
	return out
}
