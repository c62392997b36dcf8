// Package xlsx exports reports as Excel workbooks on the local filesystem.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"spendsync/internal/core"
	ports "spendsync/internal/sheets"
)

var _ ports.ReportExporter = (*Exporter)(nil)

const sheetName = "Report"

// Exporter writes one workbook per report into a directory.
type Exporter struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Exporter, error) {
	if dir == "" {
		return nil, errors.New("export directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Exporter{dir: dir}, nil
}

// ExportReport writes r to <dir>/report-<id>.xlsx, replacing an earlier
// export of the same report, and returns the file path.
func (x *Exporter) ExportReport(ctx context.Context, r core.Report) (string, error) {
	if r.ID == "" {
		return "", errors.New("report id is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("drop default sheet: %w", err)
	}

	for i, row := range ports.ReportRows(r) {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	path := filepath.Join(x.dir, "report-"+r.ID+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
