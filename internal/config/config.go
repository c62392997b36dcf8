package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"spendsync/internal/auth"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	DataBackend string
	KVBackend   string

	// Database
	SQLiteDBPath string

	// Redis
	RedisAddr   string
	RedisPrefix string

	// AMQP
	AMQPURL      string
	AMQPExchange string

	// Engine
	EnableOptimisticUpdates bool
	EnableOfflineSupport    bool
	EnableNotifications     bool
	PollInterval            time.Duration
	OperationTimeout        time.Duration
	RecentLimit             int
	DeadLetterLimit         int

	// Session the serve command signs in
	SessionEmail string
	SessionName  string

	// Reports
	ReportCacheTTL  time.Duration
	ReportCacheSize int

	// Google Sheets report export
	GoogleSpreadsheetID   string
	GoogleReportSheetName string

	// Local workbook export, used when no spreadsheet is configured
	ReportExportDir string
}

var (
	dataBackends = []string{"local", "remote"}
	kvBackends   = []string{"memory", "sqlite", "redis"}
	logFormats   = []string{"text", "json"}
)

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend: getEnv("DATA_BACKEND", "local"),
		KVBackend:   getEnv("KV_BACKEND", "sqlite"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendsync.db"),

		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: getEnv("REDIS_PREFIX", "spendsync:"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendsync"),

		EnableOptimisticUpdates: getEnvBool("ENABLE_OPTIMISTIC_UPDATES", true),
		EnableOfflineSupport:    getEnvBool("ENABLE_OFFLINE_SUPPORT", true),
		EnableNotifications:     getEnvBool("ENABLE_NOTIFICATIONS", true),
		PollInterval:            getEnvDuration("POLL_INTERVAL", 30*time.Second),
		OperationTimeout:        getEnvDuration("OPERATION_TIMEOUT", 15*time.Second),
		RecentLimit:             getEnvInt("RECENT_LIMIT", 5),
		DeadLetterLimit:         getEnvInt("DEAD_LETTER_LIMIT", 50),

		SessionEmail: getEnv("SESSION_EMAIL", "demo@spendsync.local"),
		SessionName:  getEnv("SESSION_NAME", "Demo"),

		ReportCacheTTL:  getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),
		ReportCacheSize: getEnvInt("REPORT_CACHE_SIZE", 100),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleReportSheetName: getEnv("GOOGLE_REPORT_SHEET_NAME", "Reports"),

		ReportExportDir: getEnv("REPORT_EXPORT_DIR", ""),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if !slices.Contains(logFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, logFormats))
	}

	if !slices.Contains(dataBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, dataBackends))
	}
	if !slices.Contains(kvBackends, c.KVBackend) {
		errors = append(errors, fmt.Sprintf("invalid kv backend '%s': must be one of %v", c.KVBackend, kvBackends))
	}

	if (c.DataBackend == "remote" || c.KVBackend == "sqlite") && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using the remote or sqlite backend")
	}
	if c.KVBackend == "redis" && c.RedisAddr == "" {
		errors = append(errors, "Redis address cannot be empty when using the redis kv backend")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.PollInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must not be negative", c.PollInterval))
	} else if c.PollInterval > 0 && c.PollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be 0 or at least 1 second", c.PollInterval))
	}
	if c.OperationTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must not be negative", c.OperationTimeout))
	}
	if c.RecentLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid recent limit %d: must be at least 1", c.RecentLimit))
	}
	if c.DeadLetterLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid dead letter limit %d: must not be negative", c.DeadLetterLimit))
	}

	if err := auth.ValidateEmail(c.SessionEmail); err != nil {
		errors = append(errors, fmt.Sprintf("invalid session email '%s': %v", c.SessionEmail, err))
	}

	if c.ReportCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid report cache size %d: must be at least 1", c.ReportCacheSize))
	}
	if c.ReportCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache ttl %v: must be positive", c.ReportCacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
