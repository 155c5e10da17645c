package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
)

func newRWGPSTestClient(t *testing.T, handler http.Handler) *RWGPSClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRWGPSClient(Settings{ClientID: "cid", ClientSecret: "secret", APIKey: "api-key", BaseURL: srv.URL})
}

func TestRWGPSExchangeAuthorizationCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token.json", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"rw-token","token_type":"bearer","user_id":77,"created_at":1700000000}`)
	})
	client := newRWGPSTestClient(t, mux)

	cred, err := client.ExchangeAuthorizationCode(context.Background(), "code", "https://app.example.com/cb")
	require.NoError(t, err)
	require.Equal(t, domain.ProviderRWGPS, cred.Provider)
	require.Equal(t, "rw-token", cred.AccessToken)
	require.Equal(t, "77", cred.ProviderAthleteID)
	require.True(t, cred.ExpiresAt.IsZero())
	require.False(t, cred.Expires())
}

func TestRWGPSRefreshUnsupported(t *testing.T) {
	client := NewRWGPSClient(Settings{})

	_, err := client.RefreshAccessToken(context.Background(), domain.Credential{Provider: domain.ProviderRWGPS, AccessToken: "t"})
	var refreshErr *domain.AuthRefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.ErrorIs(t, err, domain.ErrRefreshUnsupported)
	require.False(t, refreshErr.Rejected())
}

func TestRWGPSFetchActivitiesPageUsesOffsets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/77/trips.json", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "api-key", r.Header.Get("x-rwgps-api-key"))
		require.Equal(t, "2", r.Header.Get("x-rwgps-api-version"))
		require.Equal(t, "Bearer rw-token", r.Header.Get("Authorization"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprint(w, `{"results_count":3,"results":[
				{"id":10,"user_id":77,"name":"Loop","distance":42000.5,"moving_time":5400.4,"departed_at":"2024-03-15T08:00:00-07:00","gear_id":5},
				{"id":11,"user_id":77,"name":"Trainer","distance":10000,"moving_time":1800,"departed_at":"2024-03-16T08:00:00Z","is_stationary":true}
			]}`)
		case "2":
			fmt.Fprint(w, `{"results_count":3,"results":[{"id":12,"user_id":77,"name":"Last","distance":1,"moving_time":1,"departed_at":"2024-03-17T08:00:00Z"}]}`)
		default:
			fmt.Fprint(w, `{"results_count":3,"results":[]}`)
		}
	})
	client := newRWGPSTestClient(t, mux)
	cred := domain.Credential{Provider: domain.ProviderRWGPS, AccessToken: "rw-token", ProviderAthleteID: "77"}

	page, err := client.FetchActivitiesPage(context.Background(), cred, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "2", page.Next)
	require.Equal(t, int64(10), page.Items[0].RWGPS.ID)

	page, err = client.FetchActivitiesPage(context.Background(), cred, page.Next, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Empty(t, page.Next)

	page, err = client.FetchActivitiesPage(context.Background(), cred, "3", 2)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Empty(t, page.Next)
}

func TestRWGPSFetchRequiresUserID(t *testing.T) {
	client := NewRWGPSClient(Settings{})
	_, err := client.FetchActivitiesPage(context.Background(), domain.Credential{AccessToken: "t"}, "", 10)
	require.Error(t, err)
}

func TestRWGPSFetchAthleteProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/current.json", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "api-key", r.Header.Get("x-rwgps-api-key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"id":77,"first_name":"Grace","last_name":"Hopper","name":"Grace H","locality":"Arlington","administrative_area":"VA","country_code":"US","created_at":"2019-05-01T12:00:00-04:00"}}`)
	})
	client := newRWGPSTestClient(t, mux)

	profile, err := client.FetchAthleteProfile(context.Background(), domain.Credential{UserID: "user-9", AccessToken: "rw-token"})
	require.NoError(t, err)
	require.Equal(t, "user-9", profile.UserID)
	require.Equal(t, "77", profile.ProviderAthleteID)
	require.Equal(t, "Grace H", profile.Name())
	require.Equal(t, "VA", profile.State)
	require.Equal(t, 16, profile.CreatedAt.Hour())
	require.True(t, profile.UpdatedAt.IsZero())
}
