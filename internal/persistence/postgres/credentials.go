package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/ridesync/internal/domain"
)

const credentialColumns = `user_id, provider, access_token, refresh_token, expires_at, provider_athlete_id, scope, updated_at`

func scanCredential(row pgx.Row) (domain.SealedCredential, error) {
	var (
		cred      domain.SealedCredential
		provider  string
		expiresAt *time.Time
	)
	if err := row.Scan(&cred.UserID, &provider, &cred.AccessToken, &cred.RefreshToken, &expiresAt, &cred.ProviderAthleteID, &cred.Scope, &cred.UpdatedAt); err != nil {
		return domain.SealedCredential{}, err
	}
	cred.Provider = domain.Provider(provider)
	cred.ExpiresAt = fromNullTime(expiresAt)
	return cred, nil
}

// GetCredential implements domain.CredentialRepository.
func (r *Repository) GetCredential(ctx context.Context, key domain.CredentialKey) (*domain.SealedCredential, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM provider_credentials WHERE user_id=$1 AND provider=$2`, key.UserID, string(key.Provider))
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// PutCredential implements domain.CredentialRepository.
func (r *Repository) PutCredential(ctx context.Context, cred domain.SealedCredential) error {
	const stmt = `INSERT INTO provider_credentials (` + credentialColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id, provider) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            provider_athlete_id = EXCLUDED.provider_athlete_id,
            scope = EXCLUDED.scope,
            updated_at = EXCLUDED.updated_at`

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, stmt,
		cred.UserID,
		string(cred.Provider),
		cred.AccessToken,
		cred.RefreshToken,
		nullTime(cred.ExpiresAt),
		cred.ProviderAthleteID,
		cred.Scope,
		updatedAt,
	)
	return err
}

// DeleteCredential implements domain.CredentialRepository.
func (r *Repository) DeleteCredential(ctx context.Context, key domain.CredentialKey) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM provider_credentials WHERE user_id=$1 AND provider=$2`, key.UserID, string(key.Provider))
	return err
}

// ListCredentialsExpiringBefore implements domain.CredentialRepository. Credentials without an
// expiry are never returned.
func (r *Repository) ListCredentialsExpiringBefore(ctx context.Context, t time.Time) ([]domain.SealedCredential, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+credentialColumns+` FROM provider_credentials
        WHERE expires_at IS NOT NULL AND expires_at < $1 ORDER BY expires_at`, t.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SealedCredential, 0)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}
