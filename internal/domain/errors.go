package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotIntegrated is returned when a user has no credential for a provider.
	ErrNotIntegrated = errors.New("provider not integrated")
	// ErrCredentialNotFound is returned by credential storage when no row exists for the key.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrProfileNotFound is returned when no athlete profile matches.
	ErrProfileNotFound = errors.New("athlete profile not found")
	// ErrComponentNotFound is returned when a component cannot be located for the user.
	ErrComponentNotFound = errors.New("component not found")
	// ErrSyncInProgress signals that an ingestion run for the same key is already active.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrRefreshUnsupported is returned by providers whose tokens cannot be refreshed.
	ErrRefreshUnsupported = errors.New("provider does not support token refresh")
	// ErrUnknownProvider is returned when no client is registered for a provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// AuthExchangeError reports a failed authorization-code exchange. It is never retried.
type AuthExchangeError struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *AuthExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: authorization exchange failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: authorization exchange failed: %v", e.Provider, e.Err)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// AuthRefreshError reports a failed refresh grant or a token rejected by the provider.
type AuthRefreshError struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *AuthRefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: token refresh failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: token refresh failed: %v", e.Provider, e.Err)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }

// Rejected reports whether the provider itself refused the credential.
func (e *AuthRefreshError) Rejected() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusBadRequest || e.Status == http.StatusForbidden
}

// RateLimitedError signals a provider throttle. Callers pause for RetryAfter and resume.
type RateLimitedError struct {
	Provider   Provider
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// StorageError wraps persistence failures. It is fatal for the current operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage annotates err as a StorageError unless it is nil or already a domain sentinel.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// MalformedDataError describes a single provider activity that could not be used.
type MalformedDataError struct {
	Provider   Provider
	ActivityID string
	Reason     string
}

func (e MalformedDataError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("%s: malformed activity: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: malformed activity %s: %s", e.Provider, e.ActivityID, e.Reason)
}

// ProviderError is a non-2xx provider response that is neither a throttle nor an auth failure.
type ProviderError struct {
	Provider Provider
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether a later attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Status >= 500
}
