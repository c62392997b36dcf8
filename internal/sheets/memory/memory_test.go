package memory

import (
	"context"
	"testing"

	"spendsync/internal/core"
)

func TestExporterRecordsReports(t *testing.T) {
	x := New()

	if _, err := x.ExportReport(context.Background(), core.Report{}); err == nil {
		t.Fatalf("expected error for report without id")
	}

	ref, err := x.ExportReport(context.Background(), core.Report{ID: "r1"})
	if err != nil {
		t.Fatalf("ExportReport: %v", err)
	}
	if ref != "memory:r1#1" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if got := x.Exported(); len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("unexpected exported reports %+v", got)
	}
}
