// Package gateway defines the remote data gateway the sync engine talks to,
// the authenticator port, and the two storage strategies behind them.
package gateway

import (
	"context"
	"sync"

	"spendsync/internal/aggregate"
	"spendsync/internal/core"
)

// Gateway performs authenticated CRUD on the current user's expenses and
// pushes the full list whenever it changes.
type Gateway interface {
	CreateExpense(ctx context.Context, req core.CreateRequest) (core.Expense, error)
	GetExpenses(ctx context.Context, q Query) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, req core.UpdateRequest) (core.Expense, error)
	DeleteExpense(ctx context.Context, id core.ExpenseID) error
	// Subscribe delivers the full list on every change for the current user.
	// Delivery is at-least-once and unordered relative to mutation responses.
	Subscribe(ctx context.Context, l Listener) (Subscription, error)
}

// Authenticator reports the signed-in user or core.ErrAuthRequired.
type Authenticator interface {
	CurrentUser(ctx context.Context) (core.User, error)
}

// Query narrows and orders GetExpenses. The zero Query returns every
// expense newest first.
type Query struct {
	Filter aggregate.Filter
	SortBy aggregate.SortField
	Order  aggregate.SortOrder
}

// Listener receives subscription events. Either callback may be nil.
type Listener struct {
	OnChange     func([]core.Expense)
	OnDisconnect func(error)
}

// Subscription is a live change feed. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Change identifies which expense of which user changed.
type Change struct {
	UserID    string
	ExpenseID string
	Op        string
}

// ChangeBus carries change notifications between writers and subscribers.
type ChangeBus interface {
	Publish(ctx context.Context, c Change) error
	Listen(ctx context.Context, userID string, onChange func(Change), onError func(error)) (stop func(), err error)
}

// Repository is the storage a Service persists expenses to.
type Repository interface {
	InsertExpense(ctx context.Context, e core.Expense) error
	ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	GetExpense(ctx context.Context, userID string, id core.ExpenseID) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, userID string, id core.ExpenseID) error
	Ping(ctx context.Context) error
}

type subscription struct {
	once sync.Once
	stop func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// SubscriptionFunc adapts a stop function into an idempotent Subscription.
func SubscriptionFunc(stop func()) Subscription {
	return &subscription{stop: stop}
}

// ApplyQuery filters and sorts list according to q.
func ApplyQuery(list []core.Expense, q Query) []core.Expense {
	if !q.Filter.IsZero() {
		list = aggregate.FilterExpenses(list, q.Filter)
	}
	if q.SortBy != "" || q.Order != "" {
		field, order := q.SortBy, q.Order
		if field == "" {
			field = aggregate.SortByDate
		}
		if order == "" {
			order = aggregate.Desc
		}
		list = aggregate.SortExpenses(list, field, order)
	}
	return list
}
