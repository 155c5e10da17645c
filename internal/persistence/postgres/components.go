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

const componentColumns = `component_id, user_id, category, name, install_date, uninstall_date, total_rides, total_distance, total_time, updated_at`

func scanComponent(row pgx.Row) (domain.Component, error) {
	var c domain.Component
	if err := row.Scan(&c.ID, &c.UserID, &c.Category, &c.Name, &c.InstallDate, &c.UninstallDate, &c.TotalRides, &c.TotalDistance, &c.TotalTime, &c.UpdatedAt); err != nil {
		return domain.Component{}, err
	}
	c.InstallDate = c.InstallDate.UTC()
	if c.UninstallDate != nil {
		u := c.UninstallDate.UTC()
		c.UninstallDate = &u
	}
	return c, nil
}

// PutComponent inserts or replaces a component. Component CRUD belongs to the gear service;
// this is used for seeding and tests.
func (r *Repository) PutComponent(ctx context.Context, c domain.Component) (domain.Component, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var uninstall *time.Time
	if c.UninstallDate != nil {
		uninstall = nullTime(*c.UninstallDate)
	}
	return scanComponent(r.pool.QueryRow(ctx, `INSERT INTO components
        (component_id, user_id, category, name, install_date, uninstall_date, total_rides, total_distance, total_time, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())
        ON CONFLICT (component_id) DO UPDATE SET
            category = EXCLUDED.category,
            name = EXCLUDED.name,
            install_date = EXCLUDED.install_date,
            uninstall_date = EXCLUDED.uninstall_date,
            updated_at = NOW()
        RETURNING `+componentColumns,
		c.ID, c.UserID, c.Category, c.Name, c.InstallDate.UTC(), uninstall, c.TotalRides, c.TotalDistance, c.TotalTime))
}

// GetComponent implements domain.ComponentRepository.
func (r *Repository) GetComponent(ctx context.Context, userID, componentID string) (*domain.Component, error) {
	c, err := scanComponent(r.pool.QueryRow(ctx, `SELECT `+componentColumns+` FROM components
        WHERE user_id=$1 AND component_id=$2`, userID, componentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrComponentNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListComponents implements domain.ComponentRepository.
func (r *Repository) ListComponents(ctx context.Context, userID string) ([]domain.Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+componentColumns+` FROM components WHERE user_id=$1 ORDER BY component_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Component, 0)
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateUsage overwrites the derived usage fields and records a component.usage_recalculated event.
func (r *Repository) UpdateUsage(ctx context.Context, userID, componentID string, usage domain.Usage, at time.Time) (*domain.Component, error) {
	var stored domain.Component
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		stored, err = scanComponent(tx.QueryRow(ctx, `UPDATE components
            SET total_rides=$3, total_distance=$4, total_time=$5, updated_at=$6
            WHERE user_id=$1 AND component_id=$2
            RETURNING `+componentColumns,
			userID, componentID, usage.TotalRides, usage.TotalDistance, usage.TotalTime, at.UTC()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrComponentNotFound
			}
			return err
		}
		return insertOutbox(ctx, tx, outboxEntry{
			UserID:        userID,
			AggregateType: "component",
			AggregateID:   componentID,
			EventType:     events.TypeComponentUsageRecalculated,
			Version:       stored.UpdatedAt,
			Payload: events.ComponentUsageRecalculated{
				ComponentID:   stored.ID,
				UserID:        stored.UserID,
				TotalRides:    stored.TotalRides,
				TotalDistance: stored.TotalDistance,
				TotalTime:     stored.TotalTime,
				UpdatedAt:     stored.UpdatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
