package provider

import (
	"math"
	"strconv"
	"strings"
	"time"

	"example.com/ridesync/internal/domain"
)

const defaultActivityType = "Ride"

var providerTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize maps a provider wire activity to a canonical Ride. It never fails; unknown
// optional fields fall back to zero values and ValidateRide decides whether the result is usable.
func Normalize(userID string, raw domain.RawActivity) domain.Ride {
	switch {
	case raw.Strava != nil:
		return normalizeStrava(userID, raw.Strava)
	case raw.RWGPS != nil:
		return normalizeRWGPS(userID, raw.RWGPS)
	}
	return domain.Ride{UserID: userID, Provider: raw.Provider, ActivityType: defaultActivityType}
}

func normalizeStrava(userID string, a *domain.StravaActivity) domain.Ride {
	ride := domain.Ride{
		UserID:         userID,
		Provider:       domain.ProviderStrava,
		ProviderRideID: idString(a.ID),
		AthleteID:      idString(a.Athlete.ID),
		Title:          strings.TrimSpace(a.Name),
		Distance:       a.Distance,
		MovingTime:     a.MovingTime,
		StartDate:      parseProviderTime(a.StartDate),
		ActivityType:   a.Type,
		SportType:      a.SportType,
		IsTrainer:      a.Trainer,
		IsCommute:      a.Commute,
	}
	if a.ExternalID != nil {
		ride.ExternalID = strings.TrimSpace(*a.ExternalID)
	}
	if a.GearID != nil {
		ride.GearID = *a.GearID
	}
	if ride.ActivityType == "" {
		ride.ActivityType = defaultActivityType
	}
	if ride.SportType == "" {
		ride.SportType = ride.ActivityType
	}
	return ride
}

func normalizeRWGPS(userID string, t *domain.RWGPSTrip) domain.Ride {
	ride := domain.Ride{
		UserID:         userID,
		Provider:       domain.ProviderRWGPS,
		ProviderRideID: idString(t.ID),
		AthleteID:      idString(t.UserID),
		Title:          strings.TrimSpace(t.Name),
		Description:    t.Description,
		Distance:       t.Distance,
		MovingTime:     int64(math.Round(t.MovingTime)),
		StartDate:      parseProviderTime(t.DepartedAt),
		ActivityType:   defaultActivityType,
		SportType:      defaultActivityType,
		IsTrainer:      t.IsStationary,
	}
	if t.GearID != nil {
		ride.GearID = strconv.FormatInt(*t.GearID, 10)
	}
	if t.ActivityTypeID != nil {
		ride.SportType = "rwgps:" + strconv.FormatInt(*t.ActivityTypeID, 10)
	}
	return ride
}

// parseProviderTime accepts the timestamp encodings both providers emit and returns UTC.
// Values without a zone are read as UTC. Unparseable input yields the zero time.
func parseProviderTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ValidateRide reports whether a normalized ride can enter the ledger.
func ValidateRide(r domain.Ride) error {
	reason := ""
	switch {
	case r.ProviderRideID == "":
		reason = "missing activity id"
	case r.StartDate.IsZero():
		reason = "missing or unparseable start date"
	case r.Distance < 0 || math.IsNaN(r.Distance) || math.IsInf(r.Distance, 0):
		reason = "invalid distance"
	case r.MovingTime < 0:
		reason = "negative moving time"
	}
	if reason == "" {
		return nil
	}
	return domain.MalformedDataError{Provider: r.Provider, ActivityID: r.ProviderRideID, Reason: reason}
}
