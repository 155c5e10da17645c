// Package credentials owns provider access tokens: sealing them at rest, loading them for use and
// refreshing them without letting two refresh grants for the same key race.
package credentials

import (
	"context"
	"errors"
	"time"

	"example.com/ridesync/internal/domain"
)

// Store is the only component that reads or writes plaintext token material.
type Store struct {
	repo   domain.CredentialRepository
	sealer *Sealer
}

// NewStore builds a Store over the sealed credential repository.
func NewStore(repo domain.CredentialRepository, sealer *Sealer) *Store {
	return &Store{repo: repo, sealer: sealer}
}

// Get loads and unseals the credential for key. A missing row yields domain.ErrCredentialNotFound.
func (s *Store) Get(ctx context.Context, key domain.CredentialKey) (domain.Credential, error) {
	sealed, err := s.repo.GetCredential(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}
		return domain.Credential{}, domain.WrapStorage("get credential", err)
	}
	return s.open(*sealed)
}

// Put seals and upserts cred keyed by (userId, provider).
func (s *Store) Put(ctx context.Context, cred domain.Credential) error {
	if cred.UserID == "" || cred.Provider == "" {
		return errors.New("credential requires user id and provider")
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}
	sealed, err := s.seal(cred)
	if err != nil {
		return err
	}
	return domain.WrapStorage("put credential", s.repo.PutCredential(ctx, sealed))
}

// Delete removes the credential for key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key domain.CredentialKey) error {
	err := s.repo.DeleteCredential(ctx, key)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return nil
	}
	return domain.WrapStorage("delete credential", err)
}

// ListExpiringBefore returns every credential whose expiry falls strictly before t.
// Non-expiring credentials are never listed.
func (s *Store) ListExpiringBefore(ctx context.Context, t time.Time) ([]domain.Credential, error) {
	rows, err := s.repo.ListCredentialsExpiringBefore(ctx, t)
	if err != nil {
		return nil, domain.WrapStorage("list expiring credentials", err)
	}
	out := make([]domain.Credential, 0, len(rows))
	for _, row := range rows {
		cred, err := s.open(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (s *Store) seal(cred domain.Credential) (domain.SealedCredential, error) {
	binding := cred.Key().String()
	access, err := s.sealer.Seal(cred.AccessToken, binding)
	if err != nil {
		return domain.SealedCredential{}, err
	}
	refresh, err := s.sealer.Seal(cred.RefreshToken, binding)
	if err != nil {
		return domain.SealedCredential{}, err
	}
	return domain.SealedCredential{
		UserID:            cred.UserID,
		Provider:          cred.Provider,
		AccessToken:       access,
		RefreshToken:      refresh,
		ExpiresAt:         cred.ExpiresAt,
		ProviderAthleteID: cred.ProviderAthleteID,
		Scope:             cred.Scope,
		UpdatedAt:         cred.UpdatedAt,
	}, nil
}

func (s *Store) open(row domain.SealedCredential) (domain.Credential, error) {
	binding := domain.CredentialKey{UserID: row.UserID, Provider: row.Provider}.String()
	access, err := s.sealer.Open(row.AccessToken, binding)
	if err != nil {
		return domain.Credential{}, domain.WrapStorage("unseal credential", err)
	}
	refresh, err := s.sealer.Open(row.RefreshToken, binding)
	if err != nil {
		return domain.Credential{}, domain.WrapStorage("unseal credential", err)
	}
	return domain.Credential{
		UserID:            row.UserID,
		Provider:          row.Provider,
		AccessToken:       access,
		RefreshToken:      refresh,
		ExpiresAt:         row.ExpiresAt,
		ProviderAthleteID: row.ProviderAthleteID,
		Scope:             row.Scope,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}
