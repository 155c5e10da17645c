package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/platform/events"
)

const defaultListLimit = 50

const rideColumns = `ride_id, user_id, provider, provider_ride_id, external_id, athlete_id, title, description,
        distance_m, moving_time_s, start_date, gear_id, activity_type, sport_type, is_trainer, is_commute, created_at, updated_at`

func scanRide(row pgx.Row) (domain.Ride, error) {
	var (
		ride     domain.Ride
		provider string
	)
	err := row.Scan(&ride.InternalID, &ride.UserID, &provider, &ride.ProviderRideID, &ride.ExternalID, &ride.AthleteID,
		&ride.Title, &ride.Description, &ride.Distance, &ride.MovingTime, &ride.StartDate, &ride.GearID,
		&ride.ActivityType, &ride.SportType, &ride.IsTrainer, &ride.IsCommute, &ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return domain.Ride{}, err
	}
	ride.Provider = domain.Provider(provider)
	ride.StartDate = ride.StartDate.UTC()
	return ride, nil
}

func collectRides(rows pgx.Rows) ([]domain.Ride, error) {
	defer rows.Close()
	out := make([]domain.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ride)
	}
	return out, rows.Err()
}

// GetRide implements domain.RideRepository.
func (r *Repository) GetRide(ctx context.Context, key domain.RideKey) (*domain.Ride, error) {
	ride, err := scanRide(r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE provider=$1 AND provider_ride_id=$2`,
		string(key.Provider), key.ProviderRideID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ride, nil
}

// UpsertRide implements domain.RideRepository and records a ride.upserted event in the same transaction.
func (r *Repository) UpsertRide(ctx context.Context, ride domain.Ride) (*domain.Ride, error) {
	const stmt = `INSERT INTO rides (` + rideColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, NOW(), NOW())
        ON CONFLICT (provider, provider_ride_id) DO UPDATE SET
            external_id = EXCLUDED.external_id,
            athlete_id = EXCLUDED.athlete_id,
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            distance_m = EXCLUDED.distance_m,
            moving_time_s = EXCLUDED.moving_time_s,
            start_date = EXCLUDED.start_date,
            gear_id = EXCLUDED.gear_id,
            activity_type = EXCLUDED.activity_type,
            sport_type = EXCLUDED.sport_type,
            is_trainer = EXCLUDED.is_trainer,
            is_commute = EXCLUDED.is_commute,
            updated_at = NOW()
        RETURNING ` + rideColumns

	id := ride.InternalID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	var stored domain.Ride
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		stored, err = scanRide(tx.QueryRow(ctx, stmt,
			id,
			ride.UserID,
			string(ride.Provider),
			ride.ProviderRideID,
			ride.ExternalID,
			ride.AthleteID,
			ride.Title,
			ride.Description,
			ride.Distance,
			ride.MovingTime,
			ride.StartDate.UTC(),
			ride.GearID,
			ride.ActivityType,
			ride.SportType,
			ride.IsTrainer,
			ride.IsCommute,
		))
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, outboxEntry{
			UserID:        stored.UserID,
			AggregateType: "ride",
			AggregateID:   stored.InternalID,
			EventType:     events.TypeRideUpserted,
			Version:       stored.UpdatedAt,
			Payload: events.RideUpserted{
				RideID:         stored.InternalID,
				UserID:         stored.UserID,
				Provider:       string(stored.Provider),
				ProviderRideID: stored.ProviderRideID,
				StartDate:      stored.StartDate,
				Distance:       stored.Distance,
				MovingTime:     stored.MovingTime,
				UpdatedAt:      stored.UpdatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// FindRidesByProviderRideID implements domain.RideRepository.
func (r *Repository) FindRidesByProviderRideID(ctx context.Context, userID string, exclude domain.Provider, providerRideID string) ([]domain.Ride, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rideColumns+` FROM rides
        WHERE user_id=$1 AND provider<>$2 AND provider_ride_id=$3`, userID, string(exclude), providerRideID)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// FindRidesByExternalFragment implements domain.RideRepository with a case-insensitive substring match.
func (r *Repository) FindRidesByExternalFragment(ctx context.Context, userID string, exclude domain.Provider, fragment string) ([]domain.Ride, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rideColumns+` FROM rides
        WHERE user_id=$1 AND provider<>$2 AND external_id<>'' AND strpos(lower(external_id), lower($3)) > 0`,
		userID, string(exclude), fragment)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// ListRidesInRange implements domain.RideRepository over [from, to).
func (r *Repository) ListRidesInRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Ride, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rideColumns+` FROM rides
        WHERE user_id=$1 AND start_date >= $2 AND start_date < $3 ORDER BY start_date`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// ListRidesByUser returns rides newest first using keyset pagination on (start_date, ride_id).
func (r *Repository) ListRidesByUser(ctx context.Context, userID string, cursor *domain.RideCursor, limit int) ([]domain.Ride, *domain.RideCursor, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	args := []interface{}{userID, limit}
	query := `SELECT ` + rideColumns + ` FROM rides WHERE user_id=$1`
	if cursor != nil {
		if _, err := uuid.Parse(cursor.ID); err != nil {
			return nil, nil, err
		}
		query += ` AND (start_date, ride_id) < ($3, $4::uuid)`
		args = append(args, cursor.StartDate.UTC(), cursor.ID)
	}
	query += ` ORDER BY start_date DESC, ride_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := collectRides(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.RideCursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.RideCursor{StartDate: last.StartDate, ID: last.InternalID}
	}
	return results, next, nil
}

// RideStats implements domain.RideRepository.
func (r *Repository) RideStats(ctx context.Context, userID string) (domain.RideStats, error) {
	var stats domain.RideStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(distance_m), 0), COALESCE(SUM(moving_time_s), 0)
        FROM rides WHERE user_id=$1`, userID).Scan(&stats.TotalRides, &stats.TotalDistance, &stats.TotalTime)
	return stats, err
}

// FlagForReview implements domain.RideRepository. Re-flagging the same pair is a no-op.
func (r *Repository) FlagForReview(ctx context.Context, flag domain.ReviewFlag) error {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	createdAt := flag.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO ride_review_flags
        (flag_id, user_id, provider, provider_ride_id, matched_provider, matched_ride_id, matched_external, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (provider, provider_ride_id, matched_provider, matched_ride_id) DO NOTHING`,
		flag.ID, flag.UserID, string(flag.Provider), flag.ProviderRideID, string(flag.MatchedProvider),
		flag.MatchedRideID, flag.MatchedExternal, flag.Reason, createdAt)
	return err
}
