// Package usage derives component wear statistics from the ride ledger.
package usage

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var recalculations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ridesync",
	Subsystem: "usage",
	Name:      "recalculations_total",
	Help:      "Component usage recalculations grouped by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(recalculations)
}

// Option configures optional behaviour for the Recalculator.
type Option func(*Recalculator)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Recalculator) {
		r.logger = logger
	}
}

// WithClock overrides the time used to close open usage windows.
func WithClock(now func() time.Time) Option {
	return func(r *Recalculator) {
		r.now = now
	}
}

// Recalculator overwrites component usage with a full recompute over the component's window.
// Rides are matched by date only; a user riding several bikes in the same window is overcounted.
type Recalculator struct {
	rides      domain.RideRepository
	components domain.ComponentRepository
	logger     *log.Logger
	now        func() time.Time
}

// NewRecalculator constructs a Recalculator.
func NewRecalculator(rides domain.RideRepository, components domain.ComponentRepository, opts ...Option) *Recalculator {
	r := &Recalculator{
		rides:      rides,
		components: components,
		logger:     log.New(log.Writer(), "[usage] ", log.LstdFlags|log.Lshortfile),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recalculate recomputes usage for one component and returns the stored result.
func (r *Recalculator) Recalculate(ctx context.Context, userID, componentID string) (*domain.Component, error) {
	component, err := r.components.GetComponent(ctx, userID, componentID)
	if err != nil {
		if errors.Is(err, domain.ErrComponentNotFound) {
			return nil, err
		}
		return nil, domain.WrapStorage("get component", err)
	}
	return r.recalculate(ctx, *component)
}

// RecalculateAll recomputes every component of the user. It keeps going past individual
// failures and returns them joined.
func (r *Recalculator) RecalculateAll(ctx context.Context, userID string) ([]domain.Component, error) {
	components, err := r.components.ListComponents(ctx, userID)
	if err != nil {
		return nil, domain.WrapStorage("list components", err)
	}
	updated := make([]domain.Component, 0, len(components))
	var errs []error
	for _, component := range components {
		out, err := r.recalculate(ctx, component)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		updated = append(updated, *out)
	}
	return updated, errors.Join(errs...)
}

func (r *Recalculator) recalculate(ctx context.Context, component domain.Component) (*domain.Component, error) {
	now := r.now().UTC()
	from, to := component.UsageWindow(now)

	var total domain.Usage
	if to.After(from) {
		rides, err := r.rides.ListRidesInRange(ctx, component.UserID, from, to)
		if err != nil {
			recalculations.WithLabelValues("error").Inc()
			return nil, domain.WrapStorage("list rides in range", err)
		}
		total = Aggregate(rides)
	}

	out, err := r.components.UpdateUsage(ctx, component.UserID, component.ID, total, now)
	if err != nil {
		recalculations.WithLabelValues("error").Inc()
		if errors.Is(err, domain.ErrComponentNotFound) {
			return nil, err
		}
		return nil, domain.WrapStorage("update component usage", err)
	}
	recalculations.WithLabelValues("success").Inc()
	r.logger.Printf("component %s: rides=%d distance=%.0fm time=%ds", component.ID, total.TotalRides, total.TotalDistance, total.TotalTime)
	return out, nil
}

// Aggregate sums rides into a usage total.
func Aggregate(rides []domain.Ride) domain.Usage {
	var u domain.Usage
	for _, ride := range rides {
		u.TotalRides++
		u.TotalDistance += ride.Distance
		u.TotalTime += ride.MovingTime
	}
	return u
}
