package backend

import (
	"fmt"

	"spendsync/internal/config"
	"spendsync/internal/engine"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type: BackendType(appConfig.DataBackend),
		KV:   KVType(appConfig.KVBackend),

		SQLiteDBPath: appConfig.SQLiteDBPath,
		RedisAddr:    appConfig.RedisAddr,
		RedisPrefix:  appConfig.RedisPrefix,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,

		GoogleSpreadsheetID:   appConfig.GoogleSpreadsheetID,
		GoogleReportSheetName: appConfig.GoogleReportSheetName,
		ReportExportDir:       appConfig.ReportExportDir,

		ReportCacheTTL:  appConfig.ReportCacheTTL,
		ReportCacheSize: appConfig.ReportCacheSize,
		RecentLimit:     appConfig.RecentLimit,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EngineConfig maps the engine options of the application config.
func EngineConfig(appConfig *config.Config) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.EnableOptimisticUpdates = appConfig.EnableOptimisticUpdates
	cfg.EnableOfflineSupport = appConfig.EnableOfflineSupport
	cfg.EnableNotifications = appConfig.EnableNotifications
	cfg.PollInterval = appConfig.PollInterval
	cfg.OperationTimeout = appConfig.OperationTimeout
	cfg.RecentLimit = appConfig.RecentLimit
	cfg.DeadLetterLimit = appConfig.DeadLetterLimit
	return cfg
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if !c.KV.IsValid() {
		return fmt.Errorf("invalid kv backend: %s", c.KV)
	}
	if (c.Type == RemoteBackend || c.KV == SQLiteKV) && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for the %s backend with %s kv", c.Type, c.KV)
	}
	if c.KV == RedisKV && c.RedisAddr == "" {
		return fmt.Errorf("Redis address is required for redis kv")
	}
	return nil
}
