// Package reports freezes a user's expenses into shareable, read-only
// reports and serves them back by id.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spendsync/internal/aggregate"
	"spendsync/internal/cache"
	"spendsync/internal/core"
	"spendsync/internal/localstore"
	"spendsync/internal/log"
	"spendsync/internal/sheets"
)

// ErrExportDisabled is returned by Export when no exporter is configured.
var ErrExportDisabled = errors.New("report export is not configured")

type Config struct {
	CacheSize   int
	CacheTTL    time.Duration
	RecentLimit int
}

func DefaultConfig() Config {
	return Config{
		CacheSize:   100,
		CacheTTL:    5 * time.Minute,
		RecentLimit: aggregate.DefaultRecentLimit,
	}
}

type Service struct {
	storage  *localstore.ExpenseStorage
	exporter sheets.ReportExporter
	cache    *cache.LRUCache[core.Report]
	config   Config
	logger   *log.Logger
	now      func() time.Time
}

// NewService creates a report service. exporter may be nil.
func NewService(storage *localstore.ExpenseStorage, exporter sheets.ReportExporter, config Config) *Service {
	if config.RecentLimit <= 0 {
		config.RecentLimit = aggregate.DefaultRecentLimit
	}
	return &Service{
		storage:  storage,
		exporter: exporter,
		cache:    cache.NewLRUCache[core.Report](config.CacheSize, config.CacheTTL),
		config:   config,
		logger:   log.ForComponent(log.ComponentReports),
		now:      time.Now,
	}
}

// Cache exposes the lookup cache so it can be registered for sweeping.
func (s *Service) Cache() cache.Cleaner { return s.cache }

// Generate snapshots the durable expenses of userID. Records still waiting for
// their durable id are left out.
func (s *Service) Generate(ctx context.Context, userID string, expenses []core.Expense) (core.Report, error) {
	if userID == "" {
		return core.Report{}, core.ErrAuthRequired
	}
	durable := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if !e.ID.IsOptimistic() && e.UserID == userID {
			durable = append(durable, e)
		}
	}

	r := core.Report{
		ID:        uuid.NewString(),
		UserID:    userID,
		Expenses:  durable,
		Stats:     aggregate.ComputeDashboard(durable, s.config.RecentLimit),
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.SaveReport(ctx, r); err != nil {
		return core.Report{}, fmt.Errorf("save report: %w", err)
	}
	s.cache.Set(r.ID, r)

	s.logger.InfoContext(ctx, "Report generated", log.FieldReportID, r.ID, log.FieldUserID, userID, "expenses", len(durable))
	return r, nil
}

// Get returns the report with id or core.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (core.Report, error) {
	if id == "" {
		return core.Report{}, core.ErrNotFound
	}
	if r, ok := s.cache.Get(id); ok {
		return r, nil
	}
	r, err := s.storage.GetReport(ctx, id)
	if err != nil {
		return core.Report{}, err
	}
	s.cache.Set(id, r)
	return r, nil
}

// Export hands a stored report to the configured exporter.
func (s *Service) Export(ctx context.Context, id string) (string, error) {
	if s.exporter == nil {
		return "", ErrExportDisabled
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	ref, err := s.exporter.ExportReport(ctx, r)
	if err != nil {
		s.logger.ErrorContext(ctx, "Report export failed", log.FieldReportID, id, "error", err)
		return "", fmt.Errorf("export report %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Report exported", log.FieldReportID, id, "ref", ref)
	return ref, nil
}
