package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/ridesync/internal/domain"
)

// tokenExchanger wraps the oauth2 flows shared by both providers.
type tokenExchanger struct {
	provider domain.Provider
	config   oauth2.Config
	http     *http.Client
	now      func() time.Time
}

func newTokenExchanger(p domain.Provider, s Settings, o options) *tokenExchanger {
	return &tokenExchanger{
		provider: p,
		config: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   s.AuthURL,
				TokenURL:  s.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: o.httpClient,
		now:  o.now,
	}
}

func (t *tokenExchanger) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, t.http)
}

func (t *tokenExchanger) authCodeURL(state, redirectURI string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	cfg := t.config
	cfg.RedirectURL = redirectURI
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state, opts...)
}

func (t *tokenExchanger) exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if code == "" {
		return nil, &domain.AuthExchangeError{Provider: t.provider, Err: errors.New("empty authorization code")}
	}
	cfg := t.config
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(t.withClient(ctx), code)
	if err != nil {
		return nil, &domain.AuthExchangeError{Provider: t.provider, Status: retrieveStatus(err), Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &domain.AuthExchangeError{Provider: t.provider, Err: errors.New("token response missing access_token")}
	}
	return tok, nil
}

func (t *tokenExchanger) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, &domain.AuthRefreshError{Provider: t.provider, Err: errors.New("credential has no refresh token")}
	}
	// An already-expired token forces the source to run the refresh grant.
	src := t.config.TokenSource(t.withClient(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, &domain.AuthRefreshError{Provider: t.provider, Status: retrieveStatus(err), Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &domain.AuthRefreshError{Provider: t.provider, Err: errors.New("token response missing access_token")}
	}
	return tok, nil
}

// tokenExpiry prefers an absolute expires_at claim over the relative expires_in the library parsed.
func tokenExpiry(tok *oauth2.Token) time.Time {
	if v := extraInt(tok, "expires_at"); v > 0 {
		return time.Unix(v, 0).UTC()
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.UTC()
	}
	return time.Time{}
}

func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func requireID(p domain.Provider, id string) error {
	if id == "" {
		return &domain.AuthExchangeError{Provider: p, Err: fmt.Errorf("token response missing athlete identity")}
	}
	return nil
}
