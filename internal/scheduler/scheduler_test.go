package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/credentials"
	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/persistence/memory"
	"example.com/ridesync/internal/provider"
	"example.com/ridesync/internal/provider/providertest"
)

func newFixture(t *testing.T) (*credentials.Store, *credentials.Refresher, *providertest.Client) {
	t.Helper()
	sealer, err := credentials.NewEphemeralSealer()
	require.NoError(t, err)
	store := credentials.NewStore(memory.NewStore(), sealer)
	client := providertest.New(domain.ProviderStrava)
	return store, credentials.NewRefresher(store, provider.NewRegistry(client, providertest.New(domain.ProviderRWGPS))), client
}

func put(t *testing.T, store *credentials.Store, userID string, p domain.Provider, expiresAt time.Time) domain.CredentialKey {
	t.Helper()
	cred := domain.Credential{UserID: userID, Provider: p, AccessToken: "a-" + userID, RefreshToken: "r-" + userID, ExpiresAt: expiresAt}
	require.NoError(t, store.Put(context.Background(), cred))
	return cred.Key()
}

func TestRunOnceRefreshesCredentialsInsideSkewWindow(t *testing.T) {
	store, refresher, client := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	soonExpiry := now.Add(20 * time.Minute)
	soon := put(t, store, "soon", domain.ProviderStrava, soonExpiry)
	later := put(t, store, "later", domain.ProviderStrava, now.Add(5*time.Hour))
	never := put(t, store, "never", domain.ProviderRWGPS, time.Time{})

	before := testutil.ToFloat64(refreshCounter.WithLabelValues("strava", "refreshed"))
	sched := New(store, refresher, time.Hour, 2*time.Hour, 2)
	result, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Due: 1, Refreshed: 1}, result)
	require.Equal(t, 1, client.RefreshCalls())
	require.Equal(t, before+1, testutil.ToFloat64(refreshCounter.WithLabelValues("strava", "refreshed")))

	refreshed, err := store.Get(ctx, soon)
	require.NoError(t, err)
	require.True(t, refreshed.ExpiresAt.After(soonExpiry))
	require.NotEqual(t, "a-soon", refreshed.AccessToken)
	require.Equal(t, StateValid, sched.State(soon))

	untouched, err := store.Get(ctx, later)
	require.NoError(t, err)
	require.Equal(t, "a-later", untouched.AccessToken)
	require.Equal(t, StateValid, sched.State(never))
}

func TestRunOnceKeepsCredentialWhenRefreshFails(t *testing.T) {
	store, refresher, client := newFixture(t)
	ctx := context.Background()
	key := put(t, store, "u", domain.ProviderStrava, time.Now().Add(10*time.Minute))

	var fail atomic.Bool
	fail.Store(true)
	client.RefreshHook = func(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
		if fail.Load() {
			return domain.Credential{}, &domain.AuthRefreshError{Provider: domain.ProviderStrava, Status: 400, Err: errors.New("invalid refresh token")}
		}
		next := cred
		next.AccessToken = "fresh"
		next.ExpiresAt = time.Now().Add(6 * time.Hour)
		return next, nil
	}

	sched := New(store, refresher, time.Hour, time.Hour, 1)
	for i := 1; i <= 2; i++ {
		result, err := sched.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)
		require.Equal(t, StateFailed, sched.State(key))
		require.Equal(t, i, sched.Failures(key))
	}

	stored, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "a-u", stored.AccessToken)
	require.Equal(t, "r-u", stored.RefreshToken)

	fail.Store(false)
	result, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Refreshed)
	require.Equal(t, StateValid, sched.State(key))
	require.Zero(t, sched.Failures(key))
}

func TestRunOnceRefreshesDistinctKeysInParallel(t *testing.T) {
	store, refresher, client := newFixture(t)
	const n = 4
	for i := 0; i < n; i++ {
		put(t, store, "user-"+strconv.Itoa(i), domain.ProviderStrava, time.Now().Add(time.Minute))
	}

	var inFlight, peak atomic.Int32
	gate := make(chan struct{})
	client.RefreshHook = func(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		if cur == n {
			close(gate)
		}
		select {
		case <-gate:
		case <-time.After(2 * time.Second):
		}
		inFlight.Add(-1)
		next := cred
		next.ExpiresAt = time.Now().Add(6 * time.Hour)
		return next, nil
	}

	result, err := New(store, refresher, time.Hour, time.Hour, n).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, n, result.Refreshed)
	require.Equal(t, int32(n), peak.Load())
}

func TestNewClampsSkewToOneHour(t *testing.T) {
	store, refresher, _ := newFixture(t)
	sched := New(store, refresher, 0, time.Minute, 0)
	require.Equal(t, time.Hour, sched.skew)
	require.Equal(t, time.Hour, sched.interval)
	require.Equal(t, 1, sched.concurrency)
}

func TestStartStopsOnCancel(t *testing.T) {
	store, refresher, client := newFixture(t)
	put(t, store, "u", domain.ProviderStrava, time.Now().Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	sched := New(store, refresher, 10*time.Millisecond, time.Hour, 1)
	go sched.Start(ctx)

	require.Eventually(t, func() bool { return client.RefreshCalls() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	sched.Wait()
}
