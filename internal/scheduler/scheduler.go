// Package scheduler refreshes provider credentials before they expire, independently of user syncs.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/ridesync/internal/domain"
)

// CredentialState is the refresh lifecycle of one credential as seen by the sweep.
type CredentialState string

const (
	StateValid         CredentialState = "VALID"
	StateNearingExpiry CredentialState = "NEARING_EXPIRY"
	StateRefreshing    CredentialState = "REFRESHING"
	StateFailed        CredentialState = "FAILED"
)

// CredentialLister finds credentials that need a refresh.
type CredentialLister interface {
	ListExpiringBefore(ctx context.Context, t time.Time) ([]domain.Credential, error)
}

// TokenRefresher runs single-flight refresh grants.
type TokenRefresher interface {
	RefreshIfExpiring(ctx context.Context, key domain.CredentialKey, before time.Time) (domain.Credential, bool, error)
}

// SweepResult summarises one pass.
type SweepResult struct {
	Due       int
	Refreshed int
	Failed    int
}

// Option configures optional behaviour for the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler periodically refreshes credentials expiring within the skew window. A failed refresh
// leaves the stored credential untouched and is retried on the next sweep.
type Scheduler struct {
	credentials CredentialLister
	refresher   TokenRefresher
	interval    time.Duration
	skew        time.Duration
	concurrency int
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	states   map[domain.CredentialKey]CredentialState
	failures map[domain.CredentialKey]int

	shutdownComplete chan struct{}
}

// New constructs a Scheduler. skew must be at least an hour so tokens do not lapse mid-sync.
func New(creds CredentialLister, refresher TokenRefresher, interval, skew time.Duration, concurrency int, opts ...Option) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if skew < time.Hour {
		skew = time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	s := &Scheduler{
		credentials:      creds,
		refresher:        refresher,
		interval:         interval,
		skew:             skew,
		concurrency:      concurrency,
		logger:           log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile),
		now:              time.Now,
		states:           make(map[domain.CredentialKey]CredentialState),
		failures:         make(map[domain.CredentialKey]int),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a sweep immediately and then on every interval until ctx is cancelled.
// It should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("refresh sweep error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start returns.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

// RunOnce performs a single sweep. Only listing failures are returned; per-credential refresh
// failures are logged and counted.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	start := s.now()
	horizon := start.Add(s.skew)
	due, err := s.credentials.ListExpiringBefore(ctx, horizon)
	if err != nil {
		recordSweep("error", 0)
		return SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result = SweepResult{Due: len(due)}
	)
	for _, cred := range due {
		s.setState(cred.Key(), StateNearingExpiry)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, cred := range due {
		key := cred.Key()
		g.Go(func() error {
			ok := s.refreshOne(gctx, key, horizon)
			mu.Lock()
			if ok {
				result.Refreshed++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	recordSweep("success", s.now().Sub(start))
	if result.Due > 0 {
		s.logger.Printf("refresh sweep: due=%d refreshed=%d failed=%d", result.Due, result.Refreshed, result.Failed)
	}
	return result, ctx.Err()
}

func (s *Scheduler) refreshOne(ctx context.Context, key domain.CredentialKey, horizon time.Time) bool {
	s.setState(key, StateRefreshing)
	cred, _, err := s.refresher.RefreshIfExpiring(ctx, key, horizon)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			// Disconnected while the sweep was running.
			s.forget(key)
			recordRefresh(key.Provider, "gone")
			return true
		}
		attempts := s.fail(key)
		recordRefresh(key.Provider, "failed")
		var refreshErr *domain.AuthRefreshError
		if errors.As(err, &refreshErr) && refreshErr.Rejected() {
			s.logger.Printf("refresh %s rejected by provider (attempt %d), keeping credential until reconnect: %v", key, attempts, err)
		} else {
			s.logger.Printf("refresh %s failed (attempt %d), retrying next sweep: %v", key, attempts, err)
		}
		return false
	}
	if cred.ExpiresBefore(horizon) {
		// The provider handed back a token that still expires inside the window.
		s.logger.Printf("refresh %s returned expiry %s inside skew window", key, cred.ExpiresAt.Format(time.RFC3339))
	}
	s.succeed(key)
	recordRefresh(key.Provider, "refreshed")
	return true
}

// State reports the last known lifecycle state for key. Credentials never seen by a sweep are VALID.
func (s *Scheduler) State(key domain.CredentialKey) CredentialState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[key]; ok {
		return state
	}
	return StateValid
}

// Failures reports consecutive failed refresh attempts for key.
func (s *Scheduler) Failures(key domain.CredentialKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[key]
}

func (s *Scheduler) setState(key domain.CredentialKey, state CredentialState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state
}

func (s *Scheduler) fail(key domain.CredentialKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = StateFailed
	s.failures[key]++
	return s.failures[key]
}

func (s *Scheduler) succeed(key domain.CredentialKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = StateValid
	delete(s.failures, key)
}

func (s *Scheduler) forget(key domain.CredentialKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	delete(s.failures, key)
}
