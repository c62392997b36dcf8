package backend

import (
	"context"
	"errors"
	"fmt"

	"spendsync/internal/amqp"
	"spendsync/internal/auth"
	"spendsync/internal/gateway"
	"spendsync/internal/localstore"
	"spendsync/internal/log"
	"spendsync/internal/reports"
	"spendsync/internal/sheets"
	gsheet "spendsync/internal/sheets/google"
	"spendsync/internal/sheets/memory"
	"spendsync/internal/sheets/xlsx"
	"spendsync/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.ForComponent(log.ComponentBackend)
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (_ *BackendResult, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = cleanup()
		}
	}()

	// The sqlite repository doubles as the kv store and the remote store.
	var repo *storage.SQLiteRepository
	if config.Type == RemoteBackend || config.KV == SQLiteKV {
		repo, err = storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		closers = append(closers, repo.Close)
	}

	kv, err := f.createKV(ctx, config, repo, &closers)
	if err != nil {
		return nil, err
	}

	store := localstore.NewExpenseStorage(kv)
	session := auth.NewSession(store)

	result := &BackendResult{
		Storage: store,
		Session: session,
		Local:   gateway.NewLocal(store, session),
	}

	if config.Type == RemoteBackend {
		bus := f.createBus(config, &closers)
		result.Remote = gateway.NewRemote(repo, bus, session)
	}

	exporter, err := f.createExporter(ctx, config)
	if err != nil {
		return nil, err
	}
	result.Exporter = exporter

	rc := reports.DefaultConfig()
	if config.ReportCacheSize > 0 {
		rc.CacheSize = config.ReportCacheSize
	}
	if config.ReportCacheTTL > 0 {
		rc.CacheTTL = config.ReportCacheTTL
	}
	if config.RecentLimit > 0 {
		rc.RecentLimit = config.RecentLimit
	}
	result.Reports = reports.NewService(store, exporter, rc)
	result.Cleanup = cleanup

	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type,
		"kv", config.KV,
		"amqp_enabled", config.Type == RemoteBackend && config.AMQPURL != "")
	return result, nil
}

func (f *DefaultFactory) createKV(ctx context.Context, config Config, repo *storage.SQLiteRepository, closers *[]func() error) (localstore.Store, error) {
	switch config.KV {
	case MemoryKV:
		f.logger.InfoContext(ctx, "Using in-memory kv store; sessions are lost on restart")
		return localstore.NewMemoryStore(), nil
	case SQLiteKV:
		return repo, nil
	case RedisKV:
		rs, err := localstore.NewRedisStore(ctx, config.RedisAddr, config.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis store: %w", err)
		}
		*closers = append(*closers, rs.Close)
		f.logger.InfoContext(ctx, "Initialized Redis kv store", "addr", config.RedisAddr)
		return rs, nil
	default:
		return nil, fmt.Errorf("unsupported kv backend: %s", config.KV)
	}
}

// createBus connects to RabbitMQ when configured and falls back to an
// in-process bus, which only reaches subscribers of this process.
func (f *DefaultFactory) createBus(config Config, closers *[]func() error) gateway.ChangeBus {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP not configured, using in-process change bus")
		return gateway.NewLocalBus()
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, using in-process change bus", "error", err)
		return gateway.NewLocalBus()
	}
	*closers = append(*closers, client.Close)
	f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange)
	return gateway.NewAMQPBus(client)
}

func (f *DefaultFactory) createExporter(ctx context.Context, config Config) (sheets.ReportExporter, error) {
	if config.GoogleSpreadsheetID == "" {
		if config.ReportExportDir == "" {
			return memory.New(), nil
		}
		x, err := xlsx.New(config.ReportExportDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize workbook exporter: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized workbook report exporter", "dir", config.ReportExportDir)
		return x, nil
	}
	gc := gsheet.ConfigFromEnv()
	gc.SpreadsheetID = config.GoogleSpreadsheetID
	if config.GoogleReportSheetName != "" {
		gc.SheetName = config.GoogleReportSheetName
	}
	cli, err := gsheet.New(ctx, gc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets report exporter", "sheet", gc.SheetName)
	return cli, nil
}
