// Package provider isolates third-party ride-tracking APIs behind a single client contract.
package provider

import (
	"context"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"example.com/ridesync/internal/domain"
)

// Client is the capability contract every provider variant implements.
type Client interface {
	Provider() domain.Provider
	// AuthCodeURL builds the provider consent URL for the browser-facing redirect.
	AuthCodeURL(state, redirectURI string) string
	// ExchangeAuthorizationCode trades a one-time code for a credential. The returned credential has no UserID.
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.Credential, error)
	RefreshAccessToken(ctx context.Context, cred domain.Credential) (domain.Credential, error)
	// FetchActivitiesPage returns one page starting at cursor. An empty cursor starts from the beginning.
	FetchActivitiesPage(ctx context.Context, cred domain.Credential, cursor string, pageSize int) (domain.ActivityPage, error)
	FetchAthleteProfile(ctx context.Context, cred domain.Credential) (domain.AthleteProfile, error)
	NormalizeActivity(userID string, raw domain.RawActivity) domain.Ride
}

// Registry resolves the client for a provider.
type Registry struct {
	clients map[domain.Provider]Client
}

// NewRegistry builds a Registry from the supplied clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[domain.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

// Client returns the registered client or domain.ErrUnknownProvider.
func (r *Registry) Client(p domain.Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return c, nil
}

// Settings configures a provider client.
type Settings struct {
	ClientID     string
	ClientSecret string
	APIKey       string
	BaseURL      string
	AuthURL      string
	TokenURL     string
	Timeout      time.Duration
	RatePerSec   float64
}

// Option configures optional behaviour for provider clients.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time
	limiter    *rate.Limiter
}

// WithHTTPClient overrides the HTTP client used for API and token calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger overrides the logger used to report provider anomalies.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLimiter overrides the client-side request pacer.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

func buildOptions(p domain.Provider, s Settings, opts []Option) options {
	o := options{
		logger: log.New(log.Writer(), "["+string(p)+"] ", log.LstdFlags|log.Lshortfile),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}
	if o.limiter == nil {
		if s.RatePerSec > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(s.RatePerSec), 1)
		} else {
			o.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
	return o
}
