package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "civisense", cfg.MongoDBName)
	assert.Equal(t, "complaints", cfg.MongoComplaintsCollection)
	assert.True(t, cfg.MongoAllowStandaloneFallback)
	assert.Equal(t, 0.92, cfg.DuplicateSimilarityThreshold)
	assert.Equal(t, 50, cfg.DuplicateCompareLimit)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, 25, cfg.RetryBatchSize)
	assert.Equal(t, time.Minute, cfg.RetryInterval)
	assert.Equal(t, int64(10485760), cfg.ImageMaxBytes)
	assert.Equal(t, 2000.0, cfg.SchoolRadiusMeters)
	assert.Equal(t, 0.4, cfg.YoloMinConfidenceForSeverity)
	assert.False(t, cfg.BlacklistWritesEnabled)
	assert.Empty(t, cfg.InferenceURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_INTERVAL", "30s")
	t.Setenv("BLACKLIST_WRITES_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.RetryInterval)
	assert.True(t, cfg.BlacklistWritesEnabled)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := config.Load()
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.DuplicateLookback())
	assert.Equal(t, 5*time.Second, cfg.MongoServerSelectionTimeout())
	assert.Equal(t, 10*time.Second, cfg.MongoConnectTimeout())
}
