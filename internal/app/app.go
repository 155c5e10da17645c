// Package app assembles the sync engine from configuration for the service binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ridesync/internal/config"
	"example.com/ridesync/internal/credentials"
	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/ingest"
	"example.com/ridesync/internal/orchestrator"
	"example.com/ridesync/internal/persistence/memory"
	"example.com/ridesync/internal/persistence/postgres"
	"example.com/ridesync/internal/provider"
	"example.com/ridesync/internal/scheduler"
	"example.com/ridesync/internal/syncstate"
	"example.com/ridesync/internal/usage"
)

// Storage is everything the engine persists.
type Storage interface {
	domain.CredentialRepository
	domain.ProfileRepository
	domain.RideRepository
	domain.ComponentRepository
	domain.SyncEventRecorder
}

// App holds the wired engine.
type App struct {
	Pool         *pgxpool.Pool
	Storage      Storage
	Credentials  *credentials.Store
	Registry     *provider.Registry
	Refresher    *credentials.Refresher
	Tracker      *syncstate.Tracker
	Recalculator *usage.Recalculator
	Orchestrator *orchestrator.Orchestrator
}

// New connects storage and builds the engine. Callers must call Close.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Tracker: syncstate.NewTracker()}

	switch cfg.StorageDriver {
	case "memory":
		a.Storage = memory.NewStore()
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.Pool = pool
		a.Storage = postgres.NewRepository(pool)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	sealer, err := credentials.NewSealer(cfg.CredentialEncryptionKey)
	if errors.Is(err, credentials.ErrSealingKeyMissing) && cfg.StorageDriver == "memory" {
		log.Printf("CREDENTIAL_ENCRYPTION_KEY not set, sealing credentials with an ephemeral key")
		sealer, err = credentials.NewEphemeralSealer()
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Credentials = credentials.NewStore(a.Storage, sealer)
	a.Registry = NewRegistry(cfg)
	a.Refresher = credentials.NewRefresher(a.Credentials, a.Registry, credentials.WithRefreshTimeout(cfg.ProviderCallTimeout))
	a.Recalculator = usage.NewRecalculator(a.Storage, a.Storage)

	engine := ingest.NewEngine(a.Credentials, a.Refresher, a.Registry, a.Storage, a.Tracker,
		ingest.WithPageSize(cfg.ProviderPageSize),
		ingest.WithCallTimeout(cfg.ProviderCallTimeout),
		ingest.WithMaxRateLimitWait(cfg.MaxRateLimitWait),
		ingest.WithRefreshSkew(cfg.RefreshSkew),
	)
	a.Orchestrator = orchestrator.New(a.Credentials, a.Storage, a.Registry, engine, a.Recalculator, a.Tracker,
		orchestrator.WithWorkers(cfg.SyncWorkers),
		orchestrator.WithEventRecorder(a.Storage),
	)
	return a, nil
}

// NewRegistry builds the provider clients from configuration.
func NewRegistry(cfg config.Config) *provider.Registry {
	settings := func(p config.ProviderConfig) provider.Settings {
		return provider.Settings{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			AuthURL:      p.AuthURL,
			Timeout:      cfg.ProviderCallTimeout,
			RatePerSec:   cfg.ProviderRatePerSec,
		}
	}
	return provider.NewRegistry(
		provider.NewStravaClient(settings(cfg.Strava)),
		provider.NewRWGPSClient(settings(cfg.RWGPS)),
	)
}

// NewScheduler builds the credential refresh sweep.
func (a *App) NewScheduler(cfg config.Config) *scheduler.Scheduler {
	return scheduler.New(a.Credentials, a.Refresher, cfg.RefreshInterval, cfg.RefreshSkew, cfg.RefreshConcurrency)
}

// Shutdown stops background syncs.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Orchestrator == nil {
		return nil
	}
	return a.Orchestrator.Shutdown(ctx)
}

// Close releases storage connections.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
