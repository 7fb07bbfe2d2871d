package storage

import (
	"fmt"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/config"
)

// NewStorage creates the storage adapter named by the configuration. The
// adapter package must have been imported so its factory is registered.
func NewStorage(cfg *config.Config) (Storage, error) {
	var storageConfig StorageConfig

	switch cfg.DatabaseType {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres":
		storageConfig = GenericConfig{
			"type":     "postgres",
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	return Create(cfg.DatabaseType, storageConfig)
}
