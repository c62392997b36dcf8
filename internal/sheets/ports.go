package sheets

import (
	"context"

	"spendsync/internal/core"
)

// Ports for outbound adapters.
type (
	// ReportExporter publishes a frozen report somewhere people can read it.
	ReportExporter interface {
		// ExportReport writes r and returns a reference to where it landed.
		ExportReport(ctx context.Context, r core.Report) (ref string, err error)
	}
)
