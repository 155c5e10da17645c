package ingest

import (
	"context"
	"path"
	"strings"

	"example.com/ridesync/internal/domain"
)

// Shorter ids match too many unrelated external ids to be worth a review flag. They still
// reconcile on an exact match.
const minFragmentLen = 4

type matchKind int

const (
	noMatch matchKind = iota
	exactMatch
	partialMatch
)

type reconciliation struct {
	kind  matchKind
	other domain.Ride
}

// reconcile looks for the same physical ride recorded by another provider. An exact match on the
// normalized external id in either direction means the incoming ride is already in the ledger.
// A substring match is only reported for review.
func (e *Engine) reconcile(ctx context.Context, ride domain.Ride) (reconciliation, error) {
	if ext := normalizeExternalID(ride.ExternalID); ext != "" {
		others, err := e.rides.FindRidesByProviderRideID(ctx, ride.UserID, ride.Provider, ext)
		if err != nil {
			return reconciliation{}, domain.WrapStorage("find rides by provider id", err)
		}
		if len(others) > 0 {
			return reconciliation{kind: exactMatch, other: others[0]}, nil
		}
	}

	if ride.ProviderRideID == "" {
		return reconciliation{}, nil
	}
	others, err := e.rides.FindRidesByExternalFragment(ctx, ride.UserID, ride.Provider, ride.ProviderRideID)
	if err != nil {
		return reconciliation{}, domain.WrapStorage("find rides by external id", err)
	}
	for _, other := range others {
		if normalizeExternalID(other.ExternalID) == ride.ProviderRideID {
			return reconciliation{kind: exactMatch, other: other}, nil
		}
	}
	if len(others) > 0 && len(ride.ProviderRideID) >= minFragmentLen {
		return reconciliation{kind: partialMatch, other: others[0]}, nil
	}
	return reconciliation{}, nil
}

// normalizeExternalID reduces upload identifiers such as "uploads/12345.fit" to "12345".
func normalizeExternalID(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\\", "/")
	value = path.Base(value)
	if ext := path.Ext(value); ext != "" && ext != value {
		value = strings.TrimSuffix(value, ext)
	}
	if value == "." || value == "/" {
		return ""
	}
	return value
}
