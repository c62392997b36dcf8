package sheets

import (
	"time"

	"spendsync/internal/core"
)

// ReportRows lays a report out as a header, one row per expense, the
// per-category totals and a grand total. Amounts are plain numbers so the
// sheet can sum them.
func ReportRows(r core.Report) [][]any {
	rows := make([][]any, 0, len(r.Expenses)+len(r.Stats.CategoryBreakdown)+6)
	rows = append(rows,
		[]any{"Report", r.ID, r.CreatedAt.UTC().Format(time.RFC3339)},
		[]any{"Date", "Description", "Category", "Amount"},
	)
	for _, e := range r.Expenses {
		rows = append(rows, []any{e.Date.String(), e.Description, string(e.Category), e.Amount.Float()})
	}
	rows = append(rows, []any{})
	for _, ct := range r.Stats.CategoryBreakdown {
		rows = append(rows, []any{"", "", string(ct.Category), ct.Amount.Float()})
	}
	rows = append(rows, []any{"Total", r.Stats.TotalCount, "", r.Stats.TotalAmount.Float()})
	return rows
}
