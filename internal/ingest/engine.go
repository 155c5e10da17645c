// Package ingest pulls a user's provider activities page by page and merges them into the
// canonical ride ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/provider"
	"example.com/ridesync/internal/syncstate"
)

// ClientResolver returns the provider client for a provider.
type ClientResolver interface {
	Client(p domain.Provider) (provider.Client, error)
}

// CredentialSource loads credentials and keeps them fresh.
type CredentialSource interface {
	Get(ctx context.Context, key domain.CredentialKey) (domain.Credential, error)
}

// TokenRefresher runs single-flight refresh grants.
type TokenRefresher interface {
	RefreshIfExpiring(ctx context.Context, key domain.CredentialKey, before time.Time) (domain.Credential, bool, error)
	ForceRefresh(ctx context.Context, key domain.CredentialKey) (domain.Credential, error)
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger used to report skipped activities and run outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPageSize sets the number of activities requested per page.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithCallTimeout bounds each provider page request.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithMaxRateLimitWait caps the total time one run may spend paused on provider throttles.
func WithMaxRateLimitWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxRateLimitWait = d
		}
	}
}

// WithRefreshSkew sets how far ahead of expiry a credential is refreshed before use.
func WithRefreshSkew(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refreshSkew = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine drives ingestion runs. At most one run per (userId, provider) is active at a time.
type Engine struct {
	credentials CredentialSource
	refresher   TokenRefresher
	clients     ClientResolver
	rides       domain.RideRepository
	tracker     *syncstate.Tracker
	logger      *log.Logger

	pageSize         int
	callTimeout      time.Duration
	maxRateLimitWait time.Duration
	refreshSkew      time.Duration
	now              func() time.Time
	sleep            func(ctx context.Context, d time.Duration) error
}

// NewEngine constructs an Engine.
func NewEngine(creds CredentialSource, refresher TokenRefresher, clients ClientResolver, rides domain.RideRepository, tracker *syncstate.Tracker, opts ...Option) *Engine {
	e := &Engine{
		credentials:      creds,
		refresher:        refresher,
		clients:          clients,
		rides:            rides,
		tracker:          tracker,
		logger:           log.New(log.Writer(), "[ingest] ", log.LstdFlags|log.Lshortfile),
		pageSize:         100,
		callTimeout:      30 * time.Second,
		maxRateLimitWait: 16 * time.Minute,
		refreshSkew:      time.Hour,
		now:              time.Now,
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest runs one complete fetch-and-merge pass for the user and provider. It returns
// domain.ErrSyncInProgress without doing any work when a run for the same key is active, and
// domain.ErrNotIntegrated when the user has no credential. Rides merged before a failure stay merged.
func (e *Engine) Ingest(ctx context.Context, userID string, p domain.Provider) (domain.IngestResult, error) {
	release, ok := e.tracker.TryAcquire(userID, p)
	if !ok {
		recordRun(p, "in_progress", 0, time.Time{})
		return domain.IngestResult{}, domain.ErrSyncInProgress
	}
	result, err := e.IngestLocked(ctx, userID, p)
	release(result, err)
	return result, err
}

// IngestLocked runs the pass for a caller that already holds the key in the tracker and releases
// it once its own follow-up work is done. Panics are returned as errors.
func (e *Engine) IngestLocked(ctx context.Context, userID string, p domain.Provider) (result domain.IngestResult, err error) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest %s/%s panicked: %v", userID, p, r)
		}
		if err != nil {
			e.logger.Printf("ingest %s/%s failed after %d pages: %v", userID, p, result.Pages, err)
			recordRun(p, "error", e.now().Sub(start), time.Time{})
			return
		}
		e.logger.Printf("ingest %s/%s done: added=%d updated=%d skipped=%d reconciled=%d flagged=%d malformed=%d pages=%d",
			userID, p, result.RidesAdded, result.RidesUpdated, result.DuplicatesSkipped, result.Reconciled, result.Flagged, result.Malformed, result.Pages)
		recordRun(p, "success", e.now().Sub(start), e.now())
	}()

	client, err := e.clients.Client(p)
	if err != nil {
		return result, err
	}
	key := domain.CredentialKey{UserID: userID, Provider: p}
	cred, err := e.usableCredential(ctx, key)
	if err != nil {
		return result, err
	}

	cursor := ""
	var rateWaited time.Duration
	for {
		page, err := e.fetchPage(ctx, client, key, &cred, cursor, &rateWaited)
		if err != nil {
			return result, fmt.Errorf("fetch %s page %q: %w", p, cursor, err)
		}
		result.Pages++

		for _, bad := range page.Malformed {
			result.Malformed++
			recordRide(p, "malformed")
			e.logger.Printf("skip %v", bad)
		}
		if len(page.Items) == 0 && len(page.Malformed) == 0 {
			break
		}
		for _, raw := range page.Items {
			if err := e.merge(ctx, client, userID, raw, &result); err != nil {
				return result, err
			}
		}
		if page.Next == "" || page.Next == cursor {
			break
		}
		cursor = page.Next
	}
	return result, nil
}

// usableCredential refreshes a credential that would expire within the skew window. A failed
// refresh falls back to the stored credential while it has not yet expired.
func (e *Engine) usableCredential(ctx context.Context, key domain.CredentialKey) (domain.Credential, error) {
	cred, _, err := e.refresher.RefreshIfExpiring(ctx, key, e.now().Add(e.refreshSkew))
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return domain.Credential{}, domain.ErrNotIntegrated
	}
	var refreshErr *domain.AuthRefreshError
	if !errors.As(err, &refreshErr) {
		return domain.Credential{}, err
	}
	stored, getErr := e.credentials.Get(ctx, key)
	if getErr != nil {
		return domain.Credential{}, errors.Join(err, getErr)
	}
	if stored.Expires() && !stored.ExpiresAt.After(e.now()) {
		return domain.Credential{}, err
	}
	e.logger.Printf("refresh %s failed, continuing with current token: %v", key, err)
	return stored, nil
}

// fetchPage requests one page. Throttles pause and retry the same cursor; a rejected access token
// triggers a single forced refresh.
func (e *Engine) fetchPage(ctx context.Context, client provider.Client, key domain.CredentialKey, cred *domain.Credential, cursor string, rateWaited *time.Duration) (domain.ActivityPage, error) {
	refreshed := false
	for {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		page, err := client.FetchActivitiesPage(callCtx, *cred, cursor, e.pageSize)
		cancel()
		if err == nil {
			return page, nil
		}

		var rl *domain.RateLimitedError
		var refreshErr *domain.AuthRefreshError
		switch {
		case errors.As(err, &rl):
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			if *rateWaited+wait > e.maxRateLimitWait {
				return domain.ActivityPage{}, fmt.Errorf("rate limit wait budget %s exhausted: %w", e.maxRateLimitWait, err)
			}
			e.logger.Printf("%s throttled at cursor %q, resuming in %s", key, cursor, wait)
			recordRateLimitWait(key.Provider)
			if err := e.sleep(ctx, wait); err != nil {
				return domain.ActivityPage{}, err
			}
			*rateWaited += wait
		case errors.As(err, &refreshErr) && refreshErr.Rejected() && !refreshed:
			refreshed = true
			next, rerr := e.refresher.ForceRefresh(ctx, key)
			if rerr != nil {
				return domain.ActivityPage{}, errors.Join(err, rerr)
			}
			*cred = next
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return domain.ActivityPage{}, fmt.Errorf("provider call timed out after %s: %w", e.callTimeout, err)
		default:
			return domain.ActivityPage{}, err
		}
	}
}

// merge normalizes one activity and writes it to the ledger. Only storage failures are returned.
func (e *Engine) merge(ctx context.Context, client provider.Client, userID string, raw domain.RawActivity, result *domain.IngestResult) error {
	ride := client.NormalizeActivity(userID, raw)
	if err := provider.ValidateRide(ride); err != nil {
		result.Malformed++
		recordRide(ride.Provider, "malformed")
		e.logger.Printf("skip %v", err)
		return nil
	}

	existing, err := e.rides.GetRide(ctx, ride.Key())
	if err != nil {
		return domain.WrapStorage("get ride", err)
	}
	if existing != nil {
		if existing.UserID != userID {
			result.DuplicatesSkipped++
			recordRide(ride.Provider, "duplicate")
			e.logger.Printf("ride %s/%s already belongs to another user", ride.Provider, ride.ProviderRideID)
			return nil
		}
		if !existing.MateriallyDiffers(ride) {
			result.DuplicatesSkipped++
			recordRide(ride.Provider, "duplicate")
			return nil
		}
		ride.InternalID = existing.InternalID
		if _, err := e.rides.UpsertRide(ctx, ride); err != nil {
			return domain.WrapStorage("update ride", err)
		}
		result.RidesUpdated++
		recordRide(ride.Provider, "updated")
		return nil
	}

	match, err := e.reconcile(ctx, ride)
	if err != nil {
		return err
	}
	if match.kind == exactMatch {
		result.Reconciled++
		result.DuplicatesSkipped++
		recordRide(ride.Provider, "reconciled")
		return nil
	}

	if _, err := e.rides.UpsertRide(ctx, ride); err != nil {
		return domain.WrapStorage("insert ride", err)
	}
	result.RidesAdded++
	recordRide(ride.Provider, "added")

	if match.kind == partialMatch {
		flag := domain.ReviewFlag{
			UserID:          userID,
			Provider:        ride.Provider,
			ProviderRideID:  ride.ProviderRideID,
			MatchedProvider: match.other.Provider,
			MatchedRideID:   match.other.ProviderRideID,
			MatchedExternal: match.other.ExternalID,
			Reason:          "external id partially matches ride id",
			CreatedAt:       e.now().UTC(),
		}
		if err := e.rides.FlagForReview(ctx, flag); err != nil {
			return domain.WrapStorage("flag ride for review", err)
		}
		result.Flagged++
		e.logger.Printf("flagged %s/%s against %s/%s for review", ride.Provider, ride.ProviderRideID, match.other.Provider, match.other.ProviderRideID)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
