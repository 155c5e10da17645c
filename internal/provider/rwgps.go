package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"example.com/ridesync/internal/domain"
)

const (
	defaultRWGPSBaseURL = "https://ridewithgps.com"
	rwgpsAPIVersion     = "2"
	rwgpsMaxPageSize    = 200
)

// RWGPSClient talks to the Ride with GPS API. Trips are paged by offset; tokens never expire.
type RWGPSClient struct {
	api    *apiClient
	tokens *tokenExchanger
	apiKey string
	opts   options
}

// NewRWGPSClient constructs an RWGPSClient.
func NewRWGPSClient(s Settings, opts ...Option) *RWGPSClient {
	if s.BaseURL == "" {
		s.BaseURL = defaultRWGPSBaseURL
	}
	if s.AuthURL == "" {
		s.AuthURL = s.BaseURL + "/oauth/authorize"
	}
	if s.TokenURL == "" {
		s.TokenURL = s.BaseURL + "/oauth/token.json"
	}
	o := buildOptions(domain.ProviderRWGPS, s, opts)
	return &RWGPSClient{
		api:    newAPIClient(domain.ProviderRWGPS, s.BaseURL, o, nil),
		tokens: newTokenExchanger(domain.ProviderRWGPS, s, o),
		apiKey: s.APIKey,
		opts:   o,
	}
}

// Provider implements Client.
func (c *RWGPSClient) Provider() domain.Provider { return domain.ProviderRWGPS }

// AuthCodeURL implements Client.
func (c *RWGPSClient) AuthCodeURL(state, redirectURI string) string {
	return c.tokens.authCodeURL(state, redirectURI, nil)
}

// ExchangeAuthorizationCode implements Client.
func (c *RWGPSClient) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.Credential, error) {
	tok, err := c.tokens.exchange(ctx, code, redirectURI)
	if err != nil {
		return domain.Credential{}, err
	}
	userID := extraString(tok, "user_id")
	if err := requireID(domain.ProviderRWGPS, userID); err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{
		Provider:          domain.ProviderRWGPS,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         tokenExpiry(tok),
		ProviderAthleteID: userID,
		Scope:             extraString(tok, "scope"),
		UpdatedAt:         c.opts.now().UTC(),
	}, nil
}

// RefreshAccessToken implements Client. Ride with GPS issues non-expiring tokens without a
// refresh grant; a refresh token is only honoured if the provider handed one out.
func (c *RWGPSClient) RefreshAccessToken(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	if !cred.Refreshable() {
		return domain.Credential{}, &domain.AuthRefreshError{Provider: domain.ProviderRWGPS, Err: domain.ErrRefreshUnsupported}
	}
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

type rwgpsTripsResponse struct {
	Results      []json.RawMessage `json:"results"`
	ResultsCount int               `json:"results_count"`
}

// FetchActivitiesPage implements Client. The cursor is the zero-based result offset.
func (c *RWGPSClient) FetchActivitiesPage(ctx context.Context, cred domain.Credential, cursor string, pageSize int) (domain.ActivityPage, error) {
	if cred.ProviderAthleteID == "" {
		return domain.ActivityPage{}, errors.New("rwgps: credential has no user id")
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return domain.ActivityPage{}, fmt.Errorf("rwgps: invalid offset cursor %q", cursor)
		}
		offset = n
	}
	if pageSize <= 0 || pageSize > rwgpsMaxPageSize {
		pageSize = rwgpsMaxPageSize
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(pageSize))

	var resp rwgpsTripsResponse
	path := "/users/" + url.PathEscape(cred.ProviderAthleteID) + "/trips.json"
	if err := c.api.getJSON(ctx, "user_trips", path, query, c.headers(cred), &resp); err != nil {
		return domain.ActivityPage{}, err
	}

	out := domain.ActivityPage{Items: make([]domain.RawActivity, 0, len(resp.Results))}
	for _, item := range resp.Results {
		var trip domain.RWGPSTrip
		if err := json.Unmarshal(item, &trip); err != nil {
			out.Malformed = append(out.Malformed, domain.MalformedDataError{
				Provider:   domain.ProviderRWGPS,
				ActivityID: peekID(item),
				Reason:     err.Error(),
			})
			continue
		}
		out.Items = append(out.Items, domain.RawActivity{Provider: domain.ProviderRWGPS, RWGPS: &trip})
	}

	// The trips endpoint signals completion with an empty page; results_count lets us stop one call early.
	next := offset + len(resp.Results)
	if len(resp.Results) > 0 && (resp.ResultsCount == 0 || next < resp.ResultsCount) {
		out.Next = strconv.Itoa(next)
	}
	return out, nil
}

type rwgpsUserResponse struct {
	User struct {
		ID                 int64  `json:"id"`
		FirstName          string `json:"first_name"`
		LastName           string `json:"last_name"`
		Name               string `json:"name"`
		Locality           string `json:"locality"`
		AdministrativeArea string `json:"administrative_area"`
		CountryCode        string `json:"country_code"`
		CreatedAt          string `json:"created_at"`
		UpdatedAt          string `json:"updated_at"`
	} `json:"user"`
}

// FetchAthleteProfile implements Client.
func (c *RWGPSClient) FetchAthleteProfile(ctx context.Context, cred domain.Credential) (domain.AthleteProfile, error) {
	var resp rwgpsUserResponse
	if err := c.api.getJSON(ctx, "current_user", "/users/current.json", nil, c.headers(cred), &resp); err != nil {
		return domain.AthleteProfile{}, err
	}
	u := resp.User
	return domain.AthleteProfile{
		UserID:            cred.UserID,
		Provider:          domain.ProviderRWGPS,
		ProviderAthleteID: idString(u.ID),
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		DisplayName:       u.Name,
		City:              u.Locality,
		State:             u.AdministrativeArea,
		Country:           u.CountryCode,
		CreatedAt:         parseProviderTime(u.CreatedAt),
		UpdatedAt:         parseProviderTime(u.UpdatedAt),
	}, nil
}

// NormalizeActivity implements Client.
func (c *RWGPSClient) NormalizeActivity(userID string, raw domain.RawActivity) domain.Ride {
	return Normalize(userID, raw)
}

func (c *RWGPSClient) headers(cred domain.Credential) http.Header {
	h := bearer(cred.AccessToken)
	h.Set("x-rwgps-api-key", c.apiKey)
	h.Set("x-rwgps-api-version", rwgpsAPIVersion)
	return h
}
