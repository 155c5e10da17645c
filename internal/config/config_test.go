package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, time.Hour, cfg.RefreshInterval)
	require.GreaterOrEqual(t, cfg.RefreshSkew, MinRefreshSkew)
	require.Equal(t, "https://www.strava.com/api/v3", cfg.Strava.BaseURL)
}

func TestLoadClampsRefreshSkew(t *testing.T) {
	t.Setenv("REFRESH_SKEW", "5m")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("PROVIDER_RATE_PER_SECOND", "0.5")

	cfg := Load()

	require.Equal(t, MinRefreshSkew, cfg.RefreshSkew)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.InDelta(t, 0.5, cfg.ProviderRatePerSec, 1e-9)
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("SYNC_WORKERS", "many")
	t.Setenv("REFRESH_INTERVAL", "soon")

	cfg := Load()

	require.Equal(t, 4, cfg.SyncWorkers)
	require.Equal(t, time.Hour, cfg.RefreshInterval)
}
