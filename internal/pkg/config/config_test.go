package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.HarvestWorkers)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, 6*time.Hour, cfg.StalenessThreshold)
	assert.Equal(t, 10*time.Minute, cfg.RunDeadline)
	assert.Greater(t, cfg.RunLockTTL, cfg.RunDeadline, "lease must outlive the run deadline")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HARVEST_WORKERS", "8")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("FETCH_RATE_PER_SEC", "0.5")
	t.Setenv("DATABASE_URL", "postgres://localhost/rates")

	cfg := Load()
	assert.Equal(t, 8, cfg.HarvestWorkers)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 0.5, cfg.FetchRatePerSec)
	assert.Equal(t, "postgres://localhost/rates", cfg.DatabaseURL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HARVEST_WORKERS", "lots")
	t.Setenv("FETCH_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 4, cfg.HarvestWorkers)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
}
