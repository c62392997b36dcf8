package gateway

import (
	"context"
	"sort"

	"spendsync/internal/core"
	"spendsync/internal/localstore"
)

// LocalRepository stores expenses in the local persistence shim.
type LocalRepository struct {
	storage *localstore.ExpenseStorage
}

func NewLocalRepository(storage *localstore.ExpenseStorage) *LocalRepository {
	return &LocalRepository{storage: storage}
}

func (r *LocalRepository) InsertExpense(ctx context.Context, e core.Expense) error {
	return r.storage.UpdateExpenses(ctx, e.UserID, func(list []core.Expense) ([]core.Expense, error) {
		return append([]core.Expense{e}, list...), nil
	})
}

func (r *LocalRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	list, err := r.storage.GetExpenses(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (r *LocalRepository) GetExpense(ctx context.Context, userID string, id core.ExpenseID) (core.Expense, error) {
	list, err := r.storage.GetExpenses(ctx, userID)
	if err != nil {
		return core.Expense{}, err
	}
	for _, e := range list {
		if e.ID == id {
			return e, nil
		}
	}
	return core.Expense{}, core.ErrNotFound
}

func (r *LocalRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	return r.storage.UpdateExpenses(ctx, e.UserID, func(list []core.Expense) ([]core.Expense, error) {
		for i := range list {
			if list[i].ID == e.ID {
				list[i] = e
				return list, nil
			}
		}
		return nil, core.ErrNotFound
	})
}

func (r *LocalRepository) DeleteExpense(ctx context.Context, userID string, id core.ExpenseID) error {
	return r.storage.UpdateExpenses(ctx, userID, func(list []core.Expense) ([]core.Expense, error) {
		for i := range list {
			if list[i].ID == id {
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, core.ErrNotFound
	})
}

// Ping always succeeds; the shim is in-process or already connected.
func (r *LocalRepository) Ping(context.Context) error { return nil }

// NewLocal builds the local strategy: the shim for storage and an in-process bus.
func NewLocal(storage *localstore.ExpenseStorage, auth Authenticator) *Service {
	return NewService(NewLocalRepository(storage), NewLocalBus(), auth, DefaultServiceConfig("local"))
}

// NewRemote builds the remote strategy over a shared repository and bus.
func NewRemote(repo Repository, bus ChangeBus, auth Authenticator) *Service {
	return NewService(repo, bus, auth, DefaultServiceConfig("remote"))
}
