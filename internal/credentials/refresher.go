package credentials

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/provider"
)

// ClientResolver returns the provider client for a credential.
type ClientResolver interface {
	Client(p domain.Provider) (provider.Client, error)
}

// Refresher runs refresh grants with at most one in flight per credential key. Providers rotate
// refresh tokens on use, so a second concurrent grant with the same token would be rejected.
type Refresher struct {
	store   *Store
	clients ClientResolver
	group   singleflight.Group
	timeout time.Duration
	logger  *log.Logger
}

// RefresherOption configures optional behaviour for the Refresher.
type RefresherOption func(*Refresher)

// WithRefreshTimeout bounds a single refresh grant.
func WithRefreshTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRefresherLogger overrides the default logger.
func WithRefresherLogger(logger *log.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRefresher builds a Refresher.
func NewRefresher(store *Store, clients ClientResolver, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:   store,
		clients: clients,
		timeout: 30 * time.Second,
		logger:  log.New(log.Writer(), "[credentials] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type refreshOutcome struct {
	cred      domain.Credential
	refreshed bool
}

// RefreshIfExpiring returns a credential for key that is valid at least until before, running the
// refresh grant when needed. The stored row is re-read inside the flight so a refresh completed by
// another caller is observed instead of repeated. refreshed reports whether this flight rotated tokens.
func (r *Refresher) RefreshIfExpiring(ctx context.Context, key domain.CredentialKey, before time.Time) (domain.Credential, bool, error) {
	return r.do(ctx, key, func(c domain.Credential) bool { return c.ExpiresBefore(before) })
}

// ForceRefresh runs the refresh grant regardless of the stored expiry. Used after the provider
// rejected an access token that still looked valid.
func (r *Refresher) ForceRefresh(ctx context.Context, key domain.CredentialKey) (domain.Credential, error) {
	cred, _, err := r.do(ctx, key, func(domain.Credential) bool { return true })
	return cred, err
}

func (r *Refresher) do(ctx context.Context, key domain.CredentialKey, due func(domain.Credential) bool) (domain.Credential, bool, error) {
	ch := r.group.DoChan(key.String(), func() (interface{}, error) {
		// The flight outlives any single caller; bound it on its own.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(flightCtx, key, due)
	})

	select {
	case <-ctx.Done():
		return domain.Credential{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Credential{}, false, res.Err
		}
		out := res.Val.(refreshOutcome)
		return out.cred, out.refreshed, nil
	}
}

func (r *Refresher) refresh(ctx context.Context, key domain.CredentialKey, due func(domain.Credential) bool) (refreshOutcome, error) {
	current, err := r.store.Get(ctx, key)
	if err != nil {
		return refreshOutcome{}, err
	}
	if !due(current) {
		return refreshOutcome{cred: current}, nil
	}

	client, err := r.clients.Client(key.Provider)
	if err != nil {
		return refreshOutcome{}, err
	}
	next, err := client.RefreshAccessToken(ctx, current)
	if err != nil {
		r.logger.Printf("refresh %s failed: %v", key, err)
		return refreshOutcome{}, err
	}
	next.UserID = current.UserID
	next.Provider = current.Provider
	if err := r.store.Put(ctx, next); err != nil {
		return refreshOutcome{}, err
	}
	r.logger.Printf("refreshed %s, expires %s", key, next.ExpiresAt.Format(time.RFC3339))
	return refreshOutcome{cred: next, refreshed: true}, nil
}
