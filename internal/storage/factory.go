// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Enabled reports whether attempt history is configured
func Enabled(cfg *config.StorageConfig) bool {
	t := strings.ToLower(strings.TrimSpace(cfg.Type))
	return t != "" && t != "none"
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig, pm *metrics.PrometheusMetrics) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	storageConfig := &StorageConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		RetentionDays:    cfg.RetentionDays,
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStorage(storageConfig, pm), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(storageConfig, pm), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if !Enabled(cfg) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage is disabled")
	}

	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required")
	}

	if cfg.MaxConnections < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must not be negative")
	}

	supportedTypes := []string{"sqlite", "postgres", "postgresql"}
	for _, t := range supportedTypes {
		if strings.ToLower(cfg.Type) == t {
			return nil
		}
	}

	return utils.NewAppError(utils.ErrCodeConfiguration,
		"Unsupported storage type",
		"Supported types: none, "+strings.Join(supportedTypes, ", "))
}
