package core

import "time"

// CategoryTotal is the amount and count aggregated for one category.
type CategoryTotal struct {
	Category Category `json:"category"`
	Amount   Money    `json:"amount"`
	Count    int      `json:"count"`
}

// DashboardStats summarizes an expense list.
type DashboardStats struct {
	TotalCount        int             `json:"totalCount"`
	TotalAmount       Money           `json:"totalAmount"`
	CategoryBreakdown []CategoryTotal `json:"categoryBreakdown"`
	Recent            []Expense       `json:"recentExpenses"`
}

// Report is a frozen snapshot of a user's expenses and their stats.
type Report struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Expenses  []Expense      `json:"expenses"`
	Stats     DashboardStats `json:"stats"`
	CreatedAt time.Time      `json:"createdAt"`
}
