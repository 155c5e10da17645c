package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/ridesync/internal/domain"
)

const profileColumns = `user_id, provider, provider_athlete_id, first_name, last_name, display_name, city, state, country, created_at, updated_at`

func scanProfile(row pgx.Row) (*domain.AthleteProfile, error) {
	var (
		p        domain.AthleteProfile
		provider string
	)
	if err := row.Scan(&p.UserID, &provider, &p.ProviderAthleteID, &p.FirstName, &p.LastName, &p.DisplayName, &p.City, &p.State, &p.Country, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	p.Provider = domain.Provider(provider)
	return &p, nil
}

// UpsertProfile implements domain.ProfileRepository. The provider identity is the key, so a
// provider account reconnected by another user moves to that user.
func (r *Repository) UpsertProfile(ctx context.Context, profile domain.AthleteProfile) (*domain.AthleteProfile, error) {
	const stmt = `INSERT INTO athlete_profiles (user_id, provider, provider_athlete_id, first_name, last_name, display_name, city, state, country, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW(), clock_timestamp())
        ON CONFLICT (provider, provider_athlete_id) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            display_name = EXCLUDED.display_name,
            city = EXCLUDED.city,
            state = EXCLUDED.state,
            country = EXCLUDED.country,
            updated_at = clock_timestamp()
        RETURNING ` + profileColumns

	return scanProfile(r.pool.QueryRow(ctx, stmt,
		profile.UserID,
		string(profile.Provider),
		profile.ProviderAthleteID,
		profile.FirstName,
		profile.LastName,
		profile.DisplayName,
		profile.City,
		profile.State,
		profile.Country,
	))
}

// GetActiveProfile implements domain.ProfileRepository: the most recently connected account wins.
func (r *Repository) GetActiveProfile(ctx context.Context, userID string, provider domain.Provider) (*domain.AthleteProfile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM athlete_profiles
        WHERE user_id=$1 AND provider=$2 ORDER BY updated_at DESC LIMIT 1`, userID, string(provider)))
}

// FindProfileByAthlete implements domain.ProfileRepository.
func (r *Repository) FindProfileByAthlete(ctx context.Context, provider domain.Provider, providerAthleteID string) (*domain.AthleteProfile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM athlete_profiles
        WHERE provider=$1 AND provider_athlete_id=$2`, string(provider), providerAthleteID))
}

// DeleteProfiles implements domain.ProfileRepository.
func (r *Repository) DeleteProfiles(ctx context.Context, userID string, provider domain.Provider) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM athlete_profiles WHERE user_id=$1 AND provider=$2`, userID, string(provider))
	return err
}
