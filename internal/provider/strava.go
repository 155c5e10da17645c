package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/ridesync/internal/domain"
)

const (
	defaultStravaBaseURL  = "https://www.strava.com/api/v3"
	defaultStravaAuthURL  = "https://www.strava.com/oauth/authorize"
	defaultStravaTokenURL = "https://www.strava.com/api/v3/oauth/token"
	stravaMaxPageSize     = 200
)

// StravaClient talks to the Strava v3 API. Activities are paged by page number.
type StravaClient struct {
	api    *apiClient
	tokens *tokenExchanger
	opts   options
}

// NewStravaClient constructs a StravaClient.
func NewStravaClient(s Settings, opts ...Option) *StravaClient {
	if s.BaseURL == "" {
		s.BaseURL = defaultStravaBaseURL
	}
	if s.AuthURL == "" {
		s.AuthURL = defaultStravaAuthURL
	}
	if s.TokenURL == "" {
		s.TokenURL = s.BaseURL + "/oauth/token"
		if s.BaseURL == defaultStravaBaseURL {
			s.TokenURL = defaultStravaTokenURL
		}
	}
	o := buildOptions(domain.ProviderStrava, s, opts)
	return &StravaClient{
		api:    newAPIClient(domain.ProviderStrava, s.BaseURL, o, stravaWindowReset),
		tokens: newTokenExchanger(domain.ProviderStrava, s, o),
		opts:   o,
	}
}

// Provider implements Client.
func (c *StravaClient) Provider() domain.Provider { return domain.ProviderStrava }

// AuthCodeURL implements Client.
func (c *StravaClient) AuthCodeURL(state, redirectURI string) string {
	return c.tokens.authCodeURL(state, redirectURI, nil,
		oauth2.SetAuthURLParam("scope", "read,activity:read_all,profile:read_all"),
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

// ExchangeAuthorizationCode implements Client.
func (c *StravaClient) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.Credential, error) {
	tok, err := c.tokens.exchange(ctx, code, redirectURI)
	if err != nil {
		return domain.Credential{}, err
	}

	athleteID := ""
	if athlete, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			athleteID = idString(int64(id))
		}
	}
	if err := requireID(domain.ProviderStrava, athleteID); err != nil {
		return domain.Credential{}, err
	}

	return domain.Credential{
		Provider:          domain.ProviderStrava,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         tokenExpiry(tok),
		ProviderAthleteID: athleteID,
		Scope:             extraString(tok, "scope"),
		UpdatedAt:         c.opts.now().UTC(),
	}, nil
}

// RefreshAccessToken implements Client. Strava rotates refresh tokens, so the returned
// credential must replace the stored one.
func (c *StravaClient) RefreshAccessToken(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	tok, err := c.tokens.refresh(ctx, cred.RefreshToken)
	if err != nil {
		return domain.Credential{}, err
	}
	next := cred
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiresAt = tokenExpiry(tok)
	next.UpdatedAt = c.opts.now().UTC()
	return next, nil
}

// FetchActivitiesPage implements Client. The cursor is the 1-based page number.
func (c *StravaClient) FetchActivitiesPage(ctx context.Context, cred domain.Credential, cursor string, pageSize int) (domain.ActivityPage, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return domain.ActivityPage{}, fmt.Errorf("strava: invalid page cursor %q", cursor)
		}
		page = n
	}
	if pageSize <= 0 || pageSize > stravaMaxPageSize {
		pageSize = stravaMaxPageSize
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))

	var items []json.RawMessage
	if err := c.api.getJSON(ctx, "athlete_activities", "/athlete/activities", query, bearer(cred.AccessToken), &items); err != nil {
		return domain.ActivityPage{}, err
	}

	out := domain.ActivityPage{Items: make([]domain.RawActivity, 0, len(items))}
	for _, item := range items {
		var activity domain.StravaActivity
		if err := json.Unmarshal(item, &activity); err != nil {
			out.Malformed = append(out.Malformed, domain.MalformedDataError{
				Provider:   domain.ProviderStrava,
				ActivityID: peekID(item),
				Reason:     err.Error(),
			})
			continue
		}
		out.Items = append(out.Items, domain.RawActivity{Provider: domain.ProviderStrava, Strava: &activity})
	}

	// A short page is the last one; Strava never reports a total.
	if len(items) == pageSize {
		out.Next = strconv.Itoa(page + 1)
	}
	return out, nil
}

type stravaAthlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// FetchAthleteProfile implements Client.
func (c *StravaClient) FetchAthleteProfile(ctx context.Context, cred domain.Credential) (domain.AthleteProfile, error) {
	var athlete stravaAthlete
	if err := c.api.getJSON(ctx, "athlete", "/athlete", nil, bearer(cred.AccessToken), &athlete); err != nil {
		return domain.AthleteProfile{}, err
	}
	return domain.AthleteProfile{
		UserID:            cred.UserID,
		Provider:          domain.ProviderStrava,
		ProviderAthleteID: idString(athlete.ID),
		FirstName:         athlete.FirstName,
		LastName:          athlete.LastName,
		City:              athlete.City,
		State:             athlete.State,
		Country:           athlete.Country,
		CreatedAt:         parseProviderTime(athlete.CreatedAt),
		UpdatedAt:         parseProviderTime(athlete.UpdatedAt),
	}, nil
}

// NormalizeActivity implements Client.
func (c *StravaClient) NormalizeActivity(userID string, raw domain.RawActivity) domain.Ride {
	return Normalize(userID, raw)
}

// stravaWindowReset returns the time until the next 15-minute rate-limit window.
func stravaWindowReset(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now)
}

func peekID(raw json.RawMessage) string {
	var head struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.ID.String()
}
