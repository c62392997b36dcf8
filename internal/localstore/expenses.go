package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"spendsync/internal/core"
)

const (
	KeyUser         = "expense_tracker_user"
	KeyToken        = "expense_tracker_token"
	KeyExpenses     = "expense_tracker_expenses"
	KeyUsers        = "expense_tracker_users"
	reportKeyPrefix = "expense_report_"
)

// ExpensesKey returns the key holding userID's expense collection.
func ExpensesKey(userID string) string {
	return KeyExpenses + ":" + userID
}

// ReportKey returns the key holding a shared report.
func ReportKey(id string) string {
	return reportKeyPrefix + id
}

// ExpenseStorage is a typed view over a Store for session, expense and
// report records. Read-modify-write sequences are serialized.
type ExpenseStorage struct {
	mu    sync.Mutex
	store Store
}

func NewExpenseStorage(store Store) *ExpenseStorage {
	return &ExpenseStorage{store: store}
}

// Store exposes the underlying key/value store.
func (s *ExpenseStorage) Store() Store { return s.store }

// SaveSession persists the signed-in user and its token.
func (s *ExpenseStorage) SaveSession(ctx context.Context, user core.User, token string) error {
	if err := putJSON(ctx, s.store, KeyUser, user); err != nil {
		return err
	}
	return s.store.Set(ctx, KeyToken, []byte(token))
}

// GetUser returns the signed-in user, if any.
func (s *ExpenseStorage) GetUser(ctx context.Context) (core.User, bool, error) {
	var u core.User
	ok, err := getJSON(ctx, s.store, KeyUser, &u)
	return u, ok, err
}

func (s *ExpenseStorage) GetToken(ctx context.Context) (string, bool, error) {
	v, ok, err := s.store.Get(ctx, KeyToken)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

func (s *ExpenseStorage) ClearSession(ctx context.Context) error {
	if err := s.store.Remove(ctx, KeyUser); err != nil {
		return err
	}
	return s.store.Remove(ctx, KeyToken)
}

// RegisterUser records u in the known users list, replacing any entry with the same email.
func (s *ExpenseStorage) RegisterUser(ctx context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []core.User
	if _, err := getJSON(ctx, s.store, KeyUsers, &users); err != nil {
		return err
	}
	replaced := false
	for i := range users {
		if users[i].Email == u.Email {
			users[i] = u
			replaced = true
		}
	}
	if !replaced {
		users = append(users, u)
	}
	return putJSON(ctx, s.store, KeyUsers, users)
}

// FindUser looks up a known user by email.
func (s *ExpenseStorage) FindUser(ctx context.Context, email string) (core.User, bool, error) {
	var users []core.User
	if _, err := getJSON(ctx, s.store, KeyUsers, &users); err != nil {
		return core.User{}, false, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return core.User{}, false, nil
}

// GetExpenses returns userID's stored expenses, newest first as stored.
func (s *ExpenseStorage) GetExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	var list []core.Expense
	if _, err := getJSON(ctx, s.store, ExpensesKey(userID), &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []core.Expense{}
	}
	return list, nil
}

func (s *ExpenseStorage) SaveExpenses(ctx context.Context, userID string, list []core.Expense) error {
	return putJSON(ctx, s.store, ExpensesKey(userID), list)
}

// UpdateExpenses applies fn to userID's collection and saves the result atomically
// with respect to other callers of this ExpenseStorage.
func (s *ExpenseStorage) UpdateExpenses(ctx context.Context, userID string, fn func([]core.Expense) ([]core.Expense, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.GetExpenses(ctx, userID)
	if err != nil {
		return err
	}
	next, err := fn(list)
	if err != nil {
		return err
	}
	return s.SaveExpenses(ctx, userID, next)
}

func (s *ExpenseStorage) SaveReport(ctx context.Context, r core.Report) error {
	return putJSON(ctx, s.store, ReportKey(r.ID), r)
}

// GetReport returns the stored report or core.ErrNotFound.
func (s *ExpenseStorage) GetReport(ctx context.Context, id string) (core.Report, error) {
	var r core.Report
	ok, err := getJSON(ctx, s.store, ReportKey(id), &r)
	if err != nil {
		return core.Report{}, err
	}
	if !ok {
		return core.Report{}, fmt.Errorf("report %s: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func putJSON(ctx context.Context, st Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return st.Set(ctx, key, b)
}

func getJSON(ctx context.Context, st Store, key string, v any) (bool, error) {
	b, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
