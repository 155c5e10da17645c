// Package orchestrator is the entry point used by the HTTP layer and webhook consumer. It accepts
// sync requests, runs ingestion followed by usage recalculation in the background, and manages the
// connect and disconnect lifecycle of provider integrations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/observability"
	"example.com/ridesync/internal/provider"
	"example.com/ridesync/internal/syncstate"
)

var errShuttingDown = errors.New("orchestrator is shutting down")

// CredentialStore is the subset of credential storage the orchestrator needs.
type CredentialStore interface {
	Get(ctx context.Context, key domain.CredentialKey) (domain.Credential, error)
	Put(ctx context.Context, cred domain.Credential) error
	Delete(ctx context.Context, key domain.CredentialKey) error
}

// ClientResolver returns the provider client for a provider.
type ClientResolver interface {
	Client(p domain.Provider) (provider.Client, error)
}

// Ingester runs one ingestion pass for a key the caller already holds in the tracker.
type Ingester interface {
	IngestLocked(ctx context.Context, userID string, p domain.Provider) (domain.IngestResult, error)
}

// Recalculator recomputes component usage for a user.
type Recalculator interface {
	RecalculateAll(ctx context.Context, userID string) ([]domain.Component, error)
}

// Ack is the immediate answer to a sync request.
type Ack struct {
	Accepted bool `json:"accepted"`
}

// Option configures optional behaviour for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithWorkers bounds how many background syncs run at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithEventRecorder publishes a completion record after each background sync.
func WithEventRecorder(rec domain.SyncEventRecorder) Option {
	return func(o *Orchestrator) {
		o.events = rec
	}
}

// Orchestrator coordinates background syncs. Callers never block on a sync; the outcome is
// observable only through GetSyncState.
type Orchestrator struct {
	credentials  CredentialStore
	profiles     domain.ProfileRepository
	clients      ClientResolver
	ingester     Ingester
	recalculator Recalculator
	tracker      *syncstate.Tracker
	events       domain.SyncEventRecorder
	slots        *semaphore.Weighted
	logger       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New constructs an Orchestrator. Call Shutdown to stop background work.
func New(creds CredentialStore, profiles domain.ProfileRepository, clients ClientResolver, ingester Ingester, recalculator Recalculator, tracker *syncstate.Tracker, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		credentials:  creds,
		profiles:     profiles,
		clients:      clients,
		ingester:     ingester,
		recalculator: recalculator,
		tracker:      tracker,
		slots:        semaphore.NewWeighted(4),
		logger:       log.New(log.Writer(), "[orchestrator] ", log.LstdFlags|log.Lshortfile),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TriggerSync validates that the user is integrated with the provider and schedules ingestion
// followed by recalculation of every component. It returns as soon as the work is scheduled.
func (o *Orchestrator) TriggerSync(ctx context.Context, userID string, p domain.Provider) (Ack, error) {
	if _, err := o.clients.Client(p); err != nil {
		return Ack{}, err
	}
	if _, err := o.credentials.Get(ctx, domain.CredentialKey{UserID: userID, Provider: p}); err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			recordTrigger(p, "not_integrated")
			return Ack{}, domain.ErrNotIntegrated
		}
		return Ack{}, err
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Ack{}, errShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(userID, p)
	recordTrigger(p, "accepted")
	return Ack{Accepted: true}, nil
}

// TriggerSyncForAthlete resolves the user behind a provider athlete id and triggers a sync.
func (o *Orchestrator) TriggerSyncForAthlete(ctx context.Context, p domain.Provider, providerAthleteID string) (Ack, error) {
	profile, err := o.profiles.FindProfileByAthlete(ctx, p, providerAthleteID)
	if err != nil {
		return Ack{}, err
	}
	return o.TriggerSync(ctx, profile.UserID, p)
}

func (o *Orchestrator) run(userID string, p domain.Provider) {
	defer o.wg.Done()
	if err := o.slots.Acquire(o.ctx, 1); err != nil {
		return
	}
	defer o.slots.Release(1)
	inflight.Inc()
	defer inflight.Dec()

	start := time.Now()
	release, ok := o.tracker.TryAcquire(userID, p)
	if !ok {
		o.logger.Printf("sync %s/%s skipped: already running", userID, p)
		recordCompletion(p, "skipped", time.Since(start))
		return
	}
	// The key stays RUNNING until recalculation has finished too.
	result, err := o.ingestAndRecalculate(userID, p)
	release(result, err)

	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	recordCompletion(p, outcome, time.Since(start))
	observability.RecordSyncCompleted(time.Now())

	if o.events != nil {
		if eerr := o.events.RecordSyncCompleted(o.ctx, o.tracker.Get(userID, p)); eerr != nil {
			o.logger.Printf("sync %s/%s completion event failed: %v", userID, p, eerr)
		}
	}
}

func (o *Orchestrator) ingestAndRecalculate(userID string, p domain.Provider) (result domain.IngestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync %s/%s panicked: %v", userID, p, r)
		}
	}()
	result, err = o.ingester.IngestLocked(o.ctx, userID, p)
	if err != nil {
		o.logger.Printf("sync %s/%s ingest failed: %v", userID, p, err)
	}

	// Rides merged before a failure are kept, so usage is recomputed either way.
	if _, rerr := o.recalculator.RecalculateAll(o.ctx, userID); rerr != nil {
		o.logger.Printf("sync %s/%s recalculation failed: %v", userID, p, rerr)
		if err == nil {
			err = fmt.Errorf("recalculate usage: %w", rerr)
		}
	}
	return result, err
}

// GetSyncState reports the last known sync state for the user and provider.
func (o *Orchestrator) GetSyncState(userID string, p domain.Provider) domain.SyncState {
	return o.tracker.Get(userID, p)
}

// GetActiveProfile returns the athlete profile linked for the user and provider, or
// domain.ErrNotIntegrated when the user has not connected it.
func (o *Orchestrator) GetActiveProfile(ctx context.Context, userID string, p domain.Provider) (*domain.AthleteProfile, error) {
	if _, err := o.clients.Client(p); err != nil {
		return nil, err
	}
	profile, err := o.profiles.GetActiveProfile(ctx, userID, p)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return nil, domain.ErrNotIntegrated
	}
	if err != nil {
		return nil, domain.WrapStorage("get active profile", err)
	}
	return profile, nil
}

// Disconnect removes the user's credential and athlete profiles for the provider. Rides already
// in the ledger are kept.
func (o *Orchestrator) Disconnect(ctx context.Context, userID string, p domain.Provider) error {
	if _, err := o.clients.Client(p); err != nil {
		return err
	}
	key := domain.CredentialKey{UserID: userID, Provider: p}
	var errs []error
	if err := o.credentials.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	if err := o.profiles.DeleteProfiles(ctx, userID, p); err != nil {
		errs = append(errs, domain.WrapStorage("delete profiles", err))
	}
	o.tracker.Forget(userID, p)
	if err := errors.Join(errs...); err != nil {
		return err
	}
	o.logger.Printf("disconnected %s", key)
	return nil
}

// CompleteOAuthExchange trades an authorization code for a credential, loads the athlete profile,
// and stores both for the user.
func (o *Orchestrator) CompleteOAuthExchange(ctx context.Context, userID string, p domain.Provider, code, redirectURI string) (*domain.AthleteProfile, error) {
	client, err := o.clients.Client(p)
	if err != nil {
		return nil, err
	}
	cred, err := client.ExchangeAuthorizationCode(ctx, code, redirectURI)
	if err != nil {
		recordExchange(p, "failed")
		return nil, err
	}
	cred.UserID = userID
	cred.Provider = p

	profile, err := client.FetchAthleteProfile(ctx, cred)
	if err != nil {
		recordExchange(p, "failed")
		return nil, err
	}
	profile.UserID = userID
	profile.Provider = p
	if profile.ProviderAthleteID == "" {
		profile.ProviderAthleteID = cred.ProviderAthleteID
	}
	if cred.ProviderAthleteID == "" {
		cred.ProviderAthleteID = profile.ProviderAthleteID
	}

	if err := o.credentials.Put(ctx, cred); err != nil {
		return nil, err
	}
	stored, err := o.profiles.UpsertProfile(ctx, profile)
	if err != nil {
		return nil, domain.WrapStorage("upsert profile", err)
	}
	recordExchange(p, "connected")
	o.logger.Printf("connected %s as athlete %s", cred.Key(), stored.ProviderAthleteID)
	return stored, nil
}

// Shutdown stops accepting work, cancels running syncs and waits for them to unwind.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every scheduled background sync has finished. Used by tests and tooling.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
