package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/persistence/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedRide(t *testing.T, repo *memory.Store, id string, start time.Time, distance float64, moving int64) {
	t.Helper()
	_, err := repo.UpsertRide(context.Background(), domain.Ride{
		UserID:         "u1",
		Provider:       domain.ProviderStrava,
		ProviderRideID: id,
		Title:          id,
		Distance:       distance,
		MovingTime:     moving,
		StartDate:      start,
	})
	require.NoError(t, err)
}

func TestRecalculateUsesHalfOpenWindow(t *testing.T) {
	repo := memory.NewStore()
	seedRide(t, repo, "before", time.Date(2023, 12, 31, 10, 0, 0, 0, time.UTC), 50000, 3600)
	seedRide(t, repo, "inside", time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC), 300000, 36000)
	seedRide(t, repo, "at-uninstall", day(2024, 6, 1), 1000, 100)

	uninstall := day(2024, 6, 1)
	component := repo.PutComponent(domain.Component{UserID: "u1", Category: "chain", Name: "KMC X11", InstallDate: day(2024, 1, 1), UninstallDate: &uninstall})

	calc := NewRecalculator(repo, repo)
	out, err := calc.Recalculate(context.Background(), "u1", component.ID)
	require.NoError(t, err)
	require.Equal(t, 1, out.TotalRides)
	require.Equal(t, 300000.0, out.TotalDistance)
	require.Equal(t, int64(36000), out.TotalTime)

	again, err := calc.Recalculate(context.Background(), "u1", component.ID)
	require.NoError(t, err)
	require.Equal(t, out.TotalDistance, again.TotalDistance)
	require.Equal(t, out.TotalRides, again.TotalRides)
}

func TestRecalculateOpenWindowEndsNow(t *testing.T) {
	repo := memory.NewStore()
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	seedRide(t, repo, "past", day(2024, 6, 30), 1000, 60)
	seedRide(t, repo, "future", day(2024, 7, 2), 2000, 60)
	component := repo.PutComponent(domain.Component{UserID: "u1", Name: "tyre", InstallDate: day(2024, 6, 1)})

	calc := NewRecalculator(repo, repo, WithClock(func() time.Time { return now }))
	out, err := calc.Recalculate(context.Background(), "u1", component.ID)
	require.NoError(t, err)
	require.Equal(t, 1, out.TotalRides)
	require.Equal(t, 1000.0, out.TotalDistance)
	require.Equal(t, now, out.UpdatedAt)
}

func TestRecalculateOverwritesStaleUsage(t *testing.T) {
	repo := memory.NewStore()
	component := repo.PutComponent(domain.Component{UserID: "u1", Name: "cassette", InstallDate: day(2024, 1, 1), TotalRides: 99, TotalDistance: 1e9, TotalTime: 1e6})

	out, err := NewRecalculator(repo, repo).Recalculate(context.Background(), "u1", component.ID)
	require.NoError(t, err)
	require.Zero(t, out.TotalRides)
	require.Zero(t, out.TotalDistance)
	require.Zero(t, out.TotalTime)
}

func TestRecalculateInvertedWindowIsEmpty(t *testing.T) {
	repo := memory.NewStore()
	seedRide(t, repo, "r", day(2024, 3, 1), 1000, 60)
	uninstall := day(2024, 1, 1)
	component := repo.PutComponent(domain.Component{UserID: "u1", Name: "bar tape", InstallDate: day(2024, 6, 1), UninstallDate: &uninstall})

	out, err := NewRecalculator(repo, repo).Recalculate(context.Background(), "u1", component.ID)
	require.NoError(t, err)
	require.Zero(t, out.TotalRides)
}

func TestRecalculateUnknownComponent(t *testing.T) {
	repo := memory.NewStore()
	other := repo.PutComponent(domain.Component{UserID: "someone-else", Name: "saddle", InstallDate: day(2024, 1, 1)})

	calc := NewRecalculator(repo, repo)
	_, err := calc.Recalculate(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, domain.ErrComponentNotFound)
	_, err = calc.Recalculate(context.Background(), "u1", other.ID)
	require.ErrorIs(t, err, domain.ErrComponentNotFound)
}

func TestRecalculateAll(t *testing.T) {
	repo := memory.NewStore()
	seedRide(t, repo, "a", day(2024, 2, 1), 1000, 60)
	seedRide(t, repo, "b", day(2024, 4, 1), 2000, 120)
	repo.PutComponent(domain.Component{ID: "c1", UserID: "u1", Name: "chain", InstallDate: day(2024, 1, 1)})
	repo.PutComponent(domain.Component{ID: "c2", UserID: "u1", Name: "tyre", InstallDate: day(2024, 3, 1)})

	updated, err := NewRecalculator(repo, repo).RecalculateAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.Equal(t, 3000.0, updated[0].TotalDistance)
	require.Equal(t, 2000.0, updated[1].TotalDistance)
}

type failingRides struct {
	domain.RideRepository
}

func (failingRides) ListRidesInRange(context.Context, string, time.Time, time.Time) ([]domain.Ride, error) {
	return nil, errors.New("db down")
}

func TestRecalculateAllJoinsStorageErrors(t *testing.T) {
	repo := memory.NewStore()
	repo.PutComponent(domain.Component{ID: "c1", UserID: "u1", InstallDate: day(2024, 1, 1)})
	repo.PutComponent(domain.Component{ID: "c2", UserID: "u1", InstallDate: day(2024, 1, 1)})

	updated, err := NewRecalculator(failingRides{}, repo).RecalculateAll(context.Background(), "u1")
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Empty(t, updated)
}
