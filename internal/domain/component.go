package domain

import "time"

// Component is a tracked bike part. Usage fields are derived from the ride ledger.
type Component struct {
	ID            string
	UserID        string
	Category      string
	Name          string
	InstallDate   time.Time
	UninstallDate *time.Time
	TotalRides    int
	TotalDistance float64
	TotalTime     int64
	UpdatedAt     time.Time
}

// UsageWindow returns the half-open [install, uninstall) interval, closing an open window at now.
func (c Component) UsageWindow(now time.Time) (time.Time, time.Time) {
	end := now
	if c.UninstallDate != nil {
		end = *c.UninstallDate
	}
	return c.InstallDate, end
}

// Usage is the recomputed aggregate for one component.
type Usage struct {
	TotalRides    int
	TotalDistance float64
	TotalTime     int64
}
