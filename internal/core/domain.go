package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Food          Category = "food"
	Transport     Category = "transport"
	Entertainment Category = "entertainment"
	Shopping      Category = "shopping"
	Bills         Category = "bills"
	Health        Category = "health"
	Travel        Category = "travel"
	Other         Category = "other"
)

// MaxDescriptionLength is the longest description accepted, in characters.
const MaxDescriptionLength = 200

// optimisticPrefix marks optimistic ids when they cross a serialization boundary.
const optimisticPrefix = "tmp-"

type (
	Category string

	Date struct {
		time.Time
	}

	// ExpenseID is either a durable id assigned by the remote store or an
	// optimistic id assigned locally until the durable one is known.
	ExpenseID struct {
		value      string
		optimistic bool
	}

	Expense struct {
		ID          ExpenseID `json:"id"`
		UserID      string    `json:"userId"`
		Amount      Money     `json:"amount"`
		Category    Category  `json:"category"`
		Description string    `json:"description"`
		Date        Date      `json:"date"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	// CreateRequest is the intent to record a new expense.
	CreateRequest struct {
		Amount      Money    `json:"amount"`
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Date        Date     `json:"date"`
	}

	// UpdateRequest patches an existing expense. Nil fields are left untouched.
	UpdateRequest struct {
		ID          ExpenseID `json:"id"`
		Amount      *Money    `json:"amount,omitempty"`
		Category    *Category `json:"category,omitempty"`
		Description *string   `json:"description,omitempty"`
		Date        *Date     `json:"date,omitempty"`
	}

	User struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
	}
)

// Categories lists every valid category in display order.
var Categories = []Category{Food, Transport, Entertainment, Shopping, Bills, Health, Travel, Other}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and checks it against the fixed set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid category %q", s)
	}
	return c, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Before reports whether d is a calendar day strictly before other.
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }

// After reports whether d is a calendar day strictly after other.
func (d Date) After(other Date) bool { return d.Time.After(other.Time) }

// DurableID wraps an id assigned by the remote store.
func DurableID(id string) ExpenseID {
	return ExpenseID{value: id}
}

// OptimisticID wraps a locally assigned id.
func OptimisticID(local string) ExpenseID {
	return ExpenseID{value: local, optimistic: true}
}

// NewOptimisticID returns a fresh optimistic id.
func NewOptimisticID() ExpenseID {
	return OptimisticID(uuid.NewString())
}

// NewDurableID returns a fresh durable id, used by stores that assign their own.
func NewDurableID() ExpenseID {
	return DurableID(uuid.NewString())
}

// ParseExpenseID restores an id from its string form.
func ParseExpenseID(s string) ExpenseID {
	if local, ok := strings.CutPrefix(s, optimisticPrefix); ok {
		return OptimisticID(local)
	}
	return DurableID(s)
}

func (id ExpenseID) IsOptimistic() bool { return id.optimistic }

func (id ExpenseID) IsZero() bool { return id.value == "" }

// Value returns the raw id without any namespace marker.
func (id ExpenseID) Value() string { return id.value }

func (id ExpenseID) String() string {
	if id.optimistic {
		return optimisticPrefix + id.value
	}
	return id.value
}

func (id ExpenseID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ExpenseID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = ParseExpenseID(s)
	return nil
}

// Normalize returns the request with its description trimmed.
func (r CreateRequest) Normalize() CreateRequest {
	r.Description = strings.TrimSpace(r.Description)
	return r
}

// Validate checks every domain rule and reports all violations at once.
func (r CreateRequest) Validate() error {
	var rules []string
	rules = append(rules, validateAmount(r.Amount)...)
	rules = append(rules, validateCategory(r.Category)...)
	rules = append(rules, validateDescription(r.Description)...)
	rules = append(rules, validateDate(r.Date)...)
	return newValidationError(rules)
}

// Validate checks the id and every field present in the patch.
func (r UpdateRequest) Validate() error {
	var rules []string
	if r.ID.IsZero() {
		rules = append(rules, "Expense id is required")
	}
	if r.Amount != nil {
		rules = append(rules, validateAmount(*r.Amount)...)
	}
	if r.Category != nil {
		rules = append(rules, validateCategory(*r.Category)...)
	}
	if r.Description != nil {
		rules = append(rules, validateDescription(*r.Description)...)
	}
	if r.Date != nil {
		rules = append(rules, validateDate(*r.Date)...)
	}
	return newValidationError(rules)
}

// Apply patches e with the fields present in r and stamps UpdatedAt.
func (r UpdateRequest) Apply(e Expense, now time.Time) Expense {
	if r.Amount != nil {
		e.Amount = *r.Amount
	}
	if r.Category != nil {
		e.Category = *r.Category
	}
	if r.Description != nil {
		e.Description = strings.TrimSpace(*r.Description)
	}
	if r.Date != nil {
		e.Date = *r.Date
	}
	e.UpdatedAt = now
	return e
}

// NewExpense builds the record a store persists for a create request.
func NewExpense(id ExpenseID, userID string, r CreateRequest, now time.Time) Expense {
	r = r.Normalize()
	return Expense{
		ID:          id,
		UserID:      userID,
		Amount:      r.Amount,
		Category:    r.Category,
		Description: r.Description,
		Date:        r.Date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func validateAmount(m Money) []string {
	if m.Cents <= 0 {
		return []string{"Amount must be greater than 0"}
	}
	if m.Cents > MaxAmount.Cents {
		return []string{"Amount cannot exceed 999,999"}
	}
	return nil
}

func validateCategory(c Category) []string {
	if !c.Valid() {
		return []string{"Invalid category"}
	}
	return nil
}

func validateDescription(desc string) []string {
	trimmed := strings.TrimSpace(desc)
	if trimmed == "" {
		return []string{"Description is required"}
	}
	if len([]rune(trimmed)) > MaxDescriptionLength {
		return []string{"Description cannot exceed 200 characters"}
	}
	return nil
}

func validateDate(d Date) []string {
	if d.IsZero() {
		return []string{"Date is required"}
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return []string{"Invalid date"}
	}
	return nil
}
