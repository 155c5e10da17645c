// Package providertest provides a scriptable provider.Client for tests.
package providertest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/provider"
)

// Client is an in-memory provider.Client. Activities are served in pages by integer offset.
// Hooks may be set before use to inject failures.
type Client struct {
	Kind domain.Provider

	mu         sync.Mutex
	activities []domain.RawActivity

	// PageHook runs before each page fetch; a non-nil error is returned instead of the page.
	PageHook func(cursor string, call int) error
	// RefreshHook replaces the default refresh behaviour.
	RefreshHook func(ctx context.Context, cred domain.Credential) (domain.Credential, error)
	// ExchangeHook replaces the default exchange behaviour.
	ExchangeHook func(ctx context.Context, code, redirectURI string) (domain.Credential, error)
	// Profile is returned by FetchAthleteProfile.
	Profile domain.AthleteProfile
	// NullCursorOnLastPage makes the final non-empty page report an exhausted cursor.
	NullCursorOnLastPage bool

	pageCalls    atomic.Int32
	refreshCalls atomic.Int32
	cursors      []string
}

var _ provider.Client = (*Client)(nil)

// New returns a fake client for p.
func New(p domain.Provider) *Client {
	return &Client{Kind: p}
}

// SetActivities replaces the served activities.
func (c *Client) SetActivities(items []domain.RawActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities = append([]domain.RawActivity(nil), items...)
}

// AddActivities appends to the served activities.
func (c *Client) AddActivities(items ...domain.RawActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities = append(c.activities, items...)
}

// PageCalls reports how many page fetches ran.
func (c *Client) PageCalls() int { return int(c.pageCalls.Load()) }

// RefreshCalls reports how many refresh grants ran.
func (c *Client) RefreshCalls() int { return int(c.refreshCalls.Load()) }

// Cursors returns the cursors requested so far, in order.
func (c *Client) Cursors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cursors...)
}

// Provider implements provider.Client.
func (c *Client) Provider() domain.Provider { return c.Kind }

// AuthCodeURL implements provider.Client.
func (c *Client) AuthCodeURL(state, redirectURI string) string {
	return "https://provider.test/authorize?state=" + state
}

// ExchangeAuthorizationCode implements provider.Client.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.Credential, error) {
	if c.ExchangeHook != nil {
		return c.ExchangeHook(ctx, code, redirectURI)
	}
	return domain.Credential{
		Provider:          c.Kind,
		AccessToken:       "access-" + code,
		RefreshToken:      "refresh-" + code,
		ExpiresAt:         time.Now().Add(6 * time.Hour).UTC(),
		ProviderAthleteID: c.Profile.ProviderAthleteID,
	}, nil
}

// RefreshAccessToken implements provider.Client.
func (c *Client) RefreshAccessToken(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	n := c.refreshCalls.Add(1)
	if c.RefreshHook != nil {
		return c.RefreshHook(ctx, cred)
	}
	next := cred
	next.AccessToken = "access-" + strconv.Itoa(int(n))
	next.RefreshToken = "refresh-" + strconv.Itoa(int(n))
	next.ExpiresAt = time.Now().Add(6 * time.Hour).UTC()
	return next, nil
}

// FetchActivitiesPage implements provider.Client. The cursor is an integer offset.
func (c *Client) FetchActivitiesPage(ctx context.Context, cred domain.Credential, cursor string, pageSize int) (domain.ActivityPage, error) {
	call := int(c.pageCalls.Add(1))
	c.mu.Lock()
	c.cursors = append(c.cursors, cursor)
	c.mu.Unlock()

	if c.PageHook != nil {
		if err := c.PageHook(cursor, call); err != nil {
			return domain.ActivityPage{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.ActivityPage{}, err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return domain.ActivityPage{}, err
		}
		offset = n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if offset >= len(c.activities) {
		return domain.ActivityPage{}, nil
	}
	end := offset + pageSize
	if end > len(c.activities) {
		end = len(c.activities)
	}
	page := domain.ActivityPage{Items: append([]domain.RawActivity(nil), c.activities[offset:end]...)}
	if !(c.NullCursorOnLastPage && end == len(c.activities)) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

// FetchAthleteProfile implements provider.Client.
func (c *Client) FetchAthleteProfile(ctx context.Context, cred domain.Credential) (domain.AthleteProfile, error) {
	profile := c.Profile
	profile.UserID = cred.UserID
	profile.Provider = c.Kind
	if profile.ProviderAthleteID == "" {
		profile.ProviderAthleteID = cred.ProviderAthleteID
	}
	return profile, nil
}

// NormalizeActivity implements provider.Client.
func (c *Client) NormalizeActivity(userID string, raw domain.RawActivity) domain.Ride {
	return provider.Normalize(userID, raw)
}

// StravaActivities builds n Strava activities with ids starting at first, one per day from start.
func StravaActivities(first, n int, start time.Time) []domain.RawActivity {
	out := make([]domain.RawActivity, 0, n)
	for i := 0; i < n; i++ {
		id := int64(first + i)
		out = append(out, domain.RawActivity{Provider: domain.ProviderStrava, Strava: &domain.StravaActivity{
			ID:         id,
			Name:       "Ride " + strconv.FormatInt(id, 10),
			Distance:   1000,
			MovingTime: 600,
			StartDate:  start.Add(time.Duration(i) * 24 * time.Hour).UTC().Format(time.RFC3339),
			Type:       "Ride",
		}})
	}
	return out
}
