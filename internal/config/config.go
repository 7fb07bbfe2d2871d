// Package config provides configuration management for the enrichment engine.
// It loads configuration from environment variables with sensible defaults and
// validates the result so the engine starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP server port (default: 8085)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./enricher.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis Configuration (fast cache tier + shared quotas; optional):
//   - REDIS_ADDRESS: Redis server address, empty disables Redis (default: "")
//   - REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Offline GeoIP Source:
//   - GEOIP_CITY_DB: MaxMind City database path
//   - GEOIP_ASN_DB: MaxMind ASN database path
//   - GEOIP_MAX_AGE: max age of a record's GeoIP data (default: 168h)
//
// Bulk Origin Source:
//   - ORIGIN_ENDPOINT: bulk origin-lookup API base URL, empty disables
//   - ORIGIN_BATCH_SIZE: max addresses per bulk call (default: 100)
//   - ORIGIN_TTL: freshness TTL for origin data (default: 2160h)
//   - ORIGIN_TIMEOUT: per-call timeout (default: 30s)
//
// Reputation Source:
//   - REPUTATION_ENDPOINT: reputation API base URL, empty disables
//   - REPUTATION_KEY_URI: secret URI for the API key (env: or file: scheme)
//   - REPUTATION_TTL: freshness TTL for reputation data (default: 168h)
//   - REPUTATION_RPS: requests per second ceiling (default: 2)
//   - REPUTATION_DAILY_QUOTA: calls per UTC day, 0 unlimited (default: 1000)
//   - REPUTATION_TIMEOUT: per-call timeout (default: 10s)
//
// Cascade Settings:
//   - ENRICH_MANDATORY_SOURCE: source whose absence forces re-enrichment
//     (default: geoip)
//   - ENRICH_COMMIT_SIZE: identifiers per commit group (default: 50)
//
// Cache Settings:
//   - CACHE_MEMORY_SIZE: in-process cache capacity (default: 10000)
//   - CACHE_MEMORY_MAX_TTL: cap on in-process entry TTL (default: 10m)
//
// Maintenance:
//   - SWEEP_SCHEDULE: cron spec for the durable-cache sweep (default: @hourly)
//   - BATCH_SCHEDULE: cron spec for periodic re-enrichment, empty disables
//   - BATCH_SCAN_SIZE: candidate IPs examined per scheduled run (default: 1000)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the enrichment engine.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Offline GeoIP source
	GeoIPCityDB string
	GeoIPASNDB  string
	GeoIPMaxAge time.Duration

	// Bulk origin source
	OriginEndpoint  string
	OriginBatchSize int
	OriginTTL       time.Duration
	OriginTimeout   time.Duration

	// Reputation source
	ReputationEndpoint   string
	ReputationKeyURI     string
	ReputationTTL        time.Duration
	ReputationRPS        int
	ReputationDailyQuota int
	ReputationTimeout    time.Duration

	// Cascade settings
	MandatorySource string
	CommitSize      int

	// Cache settings
	CacheMemorySize   int
	CacheMemoryMaxTTL time.Duration

	// Maintenance schedules
	SweepSchedule string
	BatchSchedule string
	BatchScanSize int
}

// Load creates a Config with values from environment variables. It does not
// validate; call Validate on the result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8085"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./enricher.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", ""),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 10),

		GeoIPCityDB: getEnv("GEOIP_CITY_DB", ""),
		GeoIPASNDB:  getEnv("GEOIP_ASN_DB", ""),
		GeoIPMaxAge: getEnvDuration("GEOIP_MAX_AGE", 7*24*time.Hour),

		OriginEndpoint:  getEnv("ORIGIN_ENDPOINT", ""),
		OriginBatchSize: getEnvInt("ORIGIN_BATCH_SIZE", 100),
		OriginTTL:       getEnvDuration("ORIGIN_TTL", 90*24*time.Hour),
		OriginTimeout:   getEnvDuration("ORIGIN_TIMEOUT", 30*time.Second),

		ReputationEndpoint:   getEnv("REPUTATION_ENDPOINT", ""),
		ReputationKeyURI:     getEnv("REPUTATION_KEY_URI", ""),
		ReputationTTL:        getEnvDuration("REPUTATION_TTL", 7*24*time.Hour),
		ReputationRPS:        getEnvInt("REPUTATION_RPS", 2),
		ReputationDailyQuota: getEnvInt("REPUTATION_DAILY_QUOTA", 1000),
		ReputationTimeout:    getEnvDuration("REPUTATION_TIMEOUT", 10*time.Second),

		MandatorySource: getEnv("ENRICH_MANDATORY_SOURCE", "geoip"),
		CommitSize:      getEnvInt("ENRICH_COMMIT_SIZE", 50),

		CacheMemorySize:   getEnvInt("CACHE_MEMORY_SIZE", 10000),
		CacheMemoryMaxTTL: getEnvDuration("CACHE_MEMORY_MAX_TTL", 10*time.Minute),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@hourly"),
		BatchSchedule: getEnv("BATCH_SCHEDULE", ""),
		BatchScanSize: getEnvInt("BATCH_SCAN_SIZE", 1000),
	}
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}
	if c.OriginBatchSize <= 0 {
		return fmt.Errorf("ORIGIN_BATCH_SIZE must be positive")
	}
	if c.CommitSize <= 0 {
		return fmt.Errorf("ENRICH_COMMIT_SIZE must be positive")
	}
	if c.MandatorySource == "" {
		return fmt.Errorf("ENRICH_MANDATORY_SOURCE must not be empty")
	}
	if c.ReputationEndpoint != "" && c.ReputationKeyURI == "" {
		return fmt.Errorf("REPUTATION_KEY_URI is required when REPUTATION_ENDPOINT is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
