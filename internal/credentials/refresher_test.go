package credentials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/provider"
	"example.com/ridesync/internal/provider/providertest"
)

func TestRefresherSingleFlightPerKey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.CredentialKey{UserID: "u", Provider: domain.ProviderStrava}
	old := domain.Credential{UserID: "u", Provider: domain.ProviderStrava, AccessToken: "a0", RefreshToken: "r0", ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, store.Put(ctx, old))

	release := make(chan struct{})
	client := providertest.New(domain.ProviderStrava)
	client.RefreshHook = func(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
		<-release
		require.Equal(t, "r0", cred.RefreshToken)
		next := cred
		next.AccessToken = "a1"
		next.RefreshToken = "r1"
		next.ExpiresAt = time.Now().Add(6 * time.Hour)
		return next, nil
	}
	refresher := NewRefresher(store, provider.NewRegistry(client))

	var wg sync.WaitGroup
	results := make([]domain.Credential, 8)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = refresher.RefreshIfExpiring(ctx, key, time.Now().Add(time.Hour))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, client.RefreshCalls())
	for i, cred := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "a1", cred.AccessToken)
	}

	// A later caller observes the stored rotation instead of refreshing again.
	cred, refreshed, err := refresher.RefreshIfExpiring(ctx, key, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Equal(t, "r1", cred.RefreshToken)
	require.Equal(t, 1, client.RefreshCalls())
}

func TestRefresherKeepsOldCredentialOnFailure(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.CredentialKey{UserID: "u", Provider: domain.ProviderStrava}
	old := domain.Credential{UserID: "u", Provider: domain.ProviderStrava, AccessToken: "a0", RefreshToken: "r0", ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, store.Put(ctx, old))

	client := providertest.New(domain.ProviderStrava)
	client.RefreshHook = func(context.Context, domain.Credential) (domain.Credential, error) {
		return domain.Credential{}, &domain.AuthRefreshError{Provider: domain.ProviderStrava, Status: 503}
	}
	refresher := NewRefresher(store, provider.NewRegistry(client))

	_, _, err := refresher.RefreshIfExpiring(ctx, key, time.Now().Add(time.Hour))
	var refreshErr *domain.AuthRefreshError
	require.ErrorAs(t, err, &refreshErr)

	stored, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "a0", stored.AccessToken)
	require.Equal(t, "r0", stored.RefreshToken)
}

func TestRefresherSkipsValidCredential(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.CredentialKey{UserID: "u", Provider: domain.ProviderRWGPS}
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "u", Provider: domain.ProviderRWGPS, AccessToken: "never-expires"}))

	client := providertest.New(domain.ProviderRWGPS)
	refresher := NewRefresher(store, provider.NewRegistry(client))

	cred, refreshed, err := refresher.RefreshIfExpiring(ctx, key, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Equal(t, "never-expires", cred.AccessToken)
	require.Zero(t, client.RefreshCalls())

	forced, err := refresher.ForceRefresh(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "access-1", forced.AccessToken)
	require.Equal(t, 1, client.RefreshCalls())
}

func TestRefresherMissingCredential(t *testing.T) {
	store, _ := newTestStore(t)
	refresher := NewRefresher(store, provider.NewRegistry())
	_, _, err := refresher.RefreshIfExpiring(context.Background(), domain.CredentialKey{UserID: "x", Provider: domain.ProviderStrava}, time.Now())
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}
