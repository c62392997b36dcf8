// Package memory is an in-process ReportExporter used when neither a
// spreadsheet nor an export directory is configured, and in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spendsync/internal/core"
	ports "spendsync/internal/sheets"
)

var _ ports.ReportExporter = (*Exporter)(nil)

type Exporter struct {
	mu      sync.Mutex
	reports []core.Report
}

func New() *Exporter {
	return &Exporter{}
}

// ExportReport records r and returns a synthetic reference.
func (x *Exporter) ExportReport(_ context.Context, r core.Report) (string, error) {
	if r.ID == "" {
		return "", errors.New("report id is required")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reports = append(x.reports, r)
	return fmt.Sprintf("memory:%s#%d", r.ID, len(x.reports)), nil
}

// Exported returns every report recorded so far, oldest first.
func (x *Exporter) Exported() []core.Report {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]core.Report{}, x.reports...)
}
