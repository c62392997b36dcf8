// Package aggregate holds the pure functions that filter, sort and summarize
// expense collections. Nothing here performs I/O or mutates its input.
package aggregate

import (
	"sort"
	"strings"

	"spendsync/internal/core"
)

// DefaultRecentLimit is how many records the dashboard lists as recent.
const DefaultRecentLimit = 5

const (
	SortByDate     SortField = "date"
	SortByAmount   SortField = "amount"
	SortByCategory SortField = "category"

	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type (
	SortField string
	SortOrder string

	// Filter constrains an expense list. Nil fields impose no constraint.
	Filter struct {
		Category  *core.Category
		StartDate *core.Date
		EndDate   *core.Date
		MinAmount *core.Money
		MaxAmount *core.Money
	}
)

// ParseSortField maps user input to a SortField, falling back to date.
func ParseSortField(s string) SortField {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case SortByAmount, SortByCategory:
		return f
	default:
		return SortByDate
	}
}

// ParseSortOrder maps user input to a SortOrder, falling back to desc.
func ParseSortOrder(s string) SortOrder {
	if SortOrder(strings.ToLower(strings.TrimSpace(s))) == Asc {
		return Asc
	}
	return Desc
}

// IsZero reports whether f constrains nothing.
func (f Filter) IsZero() bool {
	return f.Category == nil && f.StartDate == nil && f.EndDate == nil && f.MinAmount == nil && f.MaxAmount == nil
}

// Match reports whether e passes every constraint set on f.
func (f Filter) Match(e core.Expense) bool {
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.StartDate != nil && e.Date.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Date.After(*f.EndDate) {
		return false
	}
	if f.MinAmount != nil && e.Amount.Cents < f.MinAmount.Cents {
		return false
	}
	if f.MaxAmount != nil && e.Amount.Cents > f.MaxAmount.Cents {
		return false
	}
	return true
}

// FilterExpenses returns the subsequence of list that matches f.
func FilterExpenses(list []core.Expense, f Filter) []core.Expense {
	out := make([]core.Expense, 0, len(list))
	for _, e := range list {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// SortExpenses returns a sorted copy of list. Ties keep their input order.
func SortExpenses(list []core.Expense, field SortField, order SortOrder) []core.Expense {
	out := make([]core.Expense, len(list))
	copy(out, list)

	less := func(a, b core.Expense) bool {
		switch field {
		case SortByAmount:
			return a.Amount.Cents < b.Amount.Cents
		case SortByCategory:
			return a.Category < b.Category
		default:
			return a.Date.Time.Before(b.Date.Time)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == Asc {
			return less(out[i], out[j])
		}
		return less(out[j], out[i])
	})
	return out
}

// CategoryBreakdown sums amount and count per category in first-seen order.
func CategoryBreakdown(list []core.Expense) []core.CategoryTotal {
	index := make(map[core.Category]int)
	out := make([]core.CategoryTotal, 0)
	for _, e := range list {
		i, ok := index[e.Category]
		if !ok {
			i = len(out)
			index[e.Category] = i
			out = append(out, core.CategoryTotal{Category: e.Category})
		}
		out[i].Amount = out[i].Amount.Add(e.Amount)
		out[i].Count++
	}
	return out
}

// Recent returns up to limit records with the latest CreatedAt, newest first.
func Recent(list []core.Expense, limit int) []core.Expense {
	if limit <= 0 {
		return []core.Expense{}
	}
	out := make([]core.Expense, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeDashboard derives the dashboard summary from list.
func ComputeDashboard(list []core.Expense, recentLimit int) core.DashboardStats {
	var total core.Money
	for _, e := range list {
		total = total.Add(e.Amount)
	}
	return core.DashboardStats{
		TotalCount:        len(list),
		TotalAmount:       total,
		CategoryBreakdown: CategoryBreakdown(list),
		Recent:            Recent(list, recentLimit),
	}
}
