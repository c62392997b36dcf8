package engine

import (
	"time"

	"spendsync/internal/core"
)

type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a read-only snapshot of what the engine exposes to views.
type State struct {
	Status            Status              `json:"status"`
	Expenses          []core.Expense      `json:"expenses"`
	DashboardStats    core.DashboardStats `json:"dashboardStats"`
	IsLoading         bool                `json:"isLoading"`
	IsConnected       bool                `json:"isConnected"`
	IsOnline          bool                `json:"isOnline"`
	Error             string              `json:"error"`
	LastUpdated       time.Time           `json:"lastUpdated"`
	PendingOperations int                 `json:"pendingOperations"`
	QueuedMutations   int                 `json:"queuedMutations"`
}

// IsStale reports whether the data was last refreshed more than maxAge before now.
func (s State) IsStale(now time.Time, maxAge time.Duration) bool {
	if s.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(s.LastUpdated) > maxAge
}

func (s State) clone() State {
	out := s
	out.Expenses = append([]core.Expense{}, s.Expenses...)
	out.DashboardStats.CategoryBreakdown = append([]core.CategoryTotal{}, s.DashboardStats.CategoryBreakdown...)
	out.DashboardStats.Recent = append([]core.Expense{}, s.DashboardStats.Recent...)
	return out
}

// Find returns the visible expense with id.
func (s State) Find(id core.ExpenseID) (core.Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == id {
			return e, true
		}
	}
	return core.Expense{}, false
}
