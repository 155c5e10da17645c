package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/persistence/memory"
)

func newTestStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	sealer, err := NewEphemeralSealer()
	require.NoError(t, err)
	repo := memory.NewStore()
	return NewStore(repo, sealer), repo
}

func TestStoreSealsSecretsAtRest(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	cred := domain.Credential{
		UserID:            "user-1",
		Provider:          domain.ProviderStrava,
		AccessToken:       "plain-access",
		RefreshToken:      "plain-refresh",
		ExpiresAt:         time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		ProviderAthleteID: "42",
	}
	require.NoError(t, store.Put(ctx, cred))

	sealed, err := repo.GetCredential(ctx, cred.Key())
	require.NoError(t, err)
	require.NotEqual(t, "plain-access", sealed.AccessToken)
	require.NotContains(t, sealed.RefreshToken, "plain")

	got, err := store.Get(ctx, cred.Key())
	require.NoError(t, err)
	require.Equal(t, "plain-access", got.AccessToken)
	require.Equal(t, "plain-refresh", got.RefreshToken)
	require.Equal(t, cred.ExpiresAt, got.ExpiresAt)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), domain.CredentialKey{UserID: "nobody", Provider: domain.ProviderRWGPS})
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestStoreRejectsCiphertextMovedBetweenKeys(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "a", Provider: domain.ProviderStrava, AccessToken: "secret"}))

	sealed, err := repo.GetCredential(ctx, domain.CredentialKey{UserID: "a", Provider: domain.ProviderStrava})
	require.NoError(t, err)
	moved := *sealed
	moved.UserID = "b"
	require.NoError(t, repo.PutCredential(ctx, moved))

	_, err = store.Get(ctx, domain.CredentialKey{UserID: "b", Provider: domain.ProviderStrava})
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.ErrorIs(t, err, ErrUnsealFailed)
}

func TestStoreListExpiringBeforeSkipsNonExpiring(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "soon", Provider: domain.ProviderStrava, AccessToken: "a", ExpiresAt: now.Add(30 * time.Minute)}))
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "later", Provider: domain.ProviderStrava, AccessToken: "b", ExpiresAt: now.Add(5 * time.Hour)}))
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "never", Provider: domain.ProviderRWGPS, AccessToken: "c"}))

	due, err := store.ListExpiringBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "soon", due[0].UserID)
	require.Equal(t, "a", due[0].AccessToken)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.CredentialKey{UserID: "u", Provider: domain.ProviderStrava}
	require.NoError(t, store.Put(ctx, domain.Credential{UserID: "u", Provider: domain.ProviderStrava, AccessToken: "a"}))
	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err := store.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

type failingRepo struct {
	domain.CredentialRepository
}

func (failingRepo) GetCredential(context.Context, domain.CredentialKey) (*domain.SealedCredential, error) {
	return nil, errors.New("connection refused")
}

func (failingRepo) ListCredentialsExpiringBefore(context.Context, time.Time) ([]domain.SealedCredential, error) {
	return nil, errors.New("connection refused")
}

func TestStoreWrapsStorageFailures(t *testing.T) {
	sealer, err := NewEphemeralSealer()
	require.NoError(t, err)
	store := NewStore(failingRepo{}, sealer)

	_, err = store.Get(context.Background(), domain.CredentialKey{UserID: "u", Provider: domain.ProviderStrava})
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.False(t, errors.Is(err, domain.ErrCredentialNotFound))

	_, err = store.ListExpiringBefore(context.Background(), time.Now())
	require.ErrorAs(t, err, &storageErr)
}

func TestNewSealerValidatesKey(t *testing.T) {
	_, err := NewSealer("")
	require.ErrorIs(t, err, ErrSealingKeyMissing)

	_, err = NewSealer("not base64!")
	require.Error(t, err)

	_, err = NewSealer(base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)

	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	a, err := NewSealer(key)
	require.NoError(t, err)
	b, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := a.Seal("token", "u:strava")
	require.NoError(t, err)
	plain, err := b.Open(sealed, "u:strava")
	require.NoError(t, err)
	require.Equal(t, "token", plain)

	empty, err := a.Seal("", "u:strava")
	require.NoError(t, err)
	require.Empty(t, empty)
}
