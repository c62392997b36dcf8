package backend

import (
	"context"
	"time"

	"spendsync/internal/auth"
	"spendsync/internal/gateway"
	"spendsync/internal/localstore"
	"spendsync/internal/reports"
	"spendsync/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds everything the engine and the HTTP layer are built on.
type BackendResult struct {
	Storage  *localstore.ExpenseStorage
	Session  *auth.Session
	Local    gateway.Gateway
	// Remote is nil when the local strategy was configured.
	Remote   gateway.Prober
	Reports  *reports.Service
	Exporter sheets.ReportExporter
	Cleanup  CleanupFunc
}

// SelectGateway picks the strategy once, after the session is known.
func (r *BackendResult) SelectGateway(ctx context.Context) (gateway.Gateway, gateway.Mode) {
	return gateway.Select(ctx, r.Session, r.Remote, r.Local)
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType
	KV   KVType

	SQLiteDBPath string
	RedisAddr    string
	RedisPrefix  string
	AMQPURL      string
	AMQPExchange string

	GoogleSpreadsheetID   string
	GoogleReportSheetName string
	ReportExportDir       string

	ReportCacheTTL  time.Duration
	ReportCacheSize int
	RecentLimit     int
}

// BackendType selects the gateway strategy.
type BackendType string

const (
	LocalBackend  BackendType = "local"
	RemoteBackend BackendType = "remote"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case LocalBackend, RemoteBackend:
		return true
	default:
		return false
	}
}

// KVType selects the local persistence shim implementation.
type KVType string

const (
	MemoryKV KVType = "memory"
	SQLiteKV KVType = "sqlite"
	RedisKV  KVType = "redis"
)

func (kt KVType) IsValid() bool {
	switch kt {
	case MemoryKV, SQLiteKV, RedisKV:
		return true
	default:
		return false
	}
}
