package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8085", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 100, cfg.OriginBatchSize)
	assert.Equal(t, 90*24*time.Hour, cfg.OriginTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.ReputationTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.GeoIPMaxAge)
	assert.Equal(t, "geoip", cfg.MandatorySource)
	assert.Equal(t, 50, cfg.CommitSize)
	assert.Equal(t, "@hourly", cfg.SweepSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORIGIN_BATCH_SIZE", "25")
	t.Setenv("REPUTATION_TTL", "48h")
	t.Setenv("ENRICH_MANDATORY_SOURCE", "origin")

	cfg := Load()
	assert.Equal(t, 25, cfg.OriginBatchSize)
	assert.Equal(t, 48*time.Hour, cfg.ReputationTTL)
	assert.Equal(t, "origin", cfg.MandatorySource)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ORIGIN_BATCH_SIZE", "many")
	t.Setenv("ORIGIN_TTL", "soon")

	cfg := Load()
	assert.Equal(t, 100, cfg.OriginBatchSize)
	assert.Equal(t, 90*24*time.Hour, cfg.OriginTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Load()
		cfg.DatabasePath = "/tmp/test.db"
		return cfg
	}

	t.Run("default config is valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("unsupported database type", func(t *testing.T) {
		cfg := valid()
		cfg.DatabaseType = "mongodb"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires connection settings", func(t *testing.T) {
		cfg := valid()
		cfg.DatabaseType = "postgres"
		assert.Error(t, cfg.Validate())

		cfg.PostgresHost = "localhost"
		cfg.PostgresDB = "enricher"
		cfg.PostgresUser = "enricher"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reputation endpoint requires key uri", func(t *testing.T) {
		cfg := valid()
		cfg.ReputationEndpoint = "https://reputation.example"
		assert.Error(t, cfg.Validate())

		cfg.ReputationKeyURI = "env:REPUTATION_API_KEY"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("mandatory source must not be empty", func(t *testing.T) {
		cfg := valid()
		cfg.MandatorySource = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis db range", func(t *testing.T) {
		cfg := valid()
		cfg.RedisDB = 16
		assert.Error(t, cfg.Validate())
	})
}
