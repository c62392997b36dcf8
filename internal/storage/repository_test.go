package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spendsync/internal/core"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "spendsync.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func testExpense(id, user string, cents int64, created time.Time) core.Expense {
	return core.NewExpense(core.DurableID(id), user, core.CreateRequest{
		Amount:      core.Money{Cents: cents},
		Category:    core.Food,
		Description: "Lunch " + id,
		Date:        core.NewDate(2024, 1, 15),
	}, created)
}

func TestExpenseCRUD(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	t0 := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		if err := repo.InsertExpense(ctx, testExpense(id, "u1", int64(100*(i+1)), t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := repo.InsertExpense(ctx, testExpense("other", "u2", 100, t0)); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	list, err := repo.ListExpenses(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != core.DurableID("e3") || list[2].ID != core.DurableID("e1") {
		t.Fatalf("expected newest first for u1 only, got %+v", list)
	}
	if !list[0].CreatedAt.Equal(t0.Add(2*time.Second)) || list[0].Date.String() != "2024-01-15" {
		t.Fatalf("timestamps not preserved: %+v", list[0])
	}

	e, err := repo.GetExpense(ctx, "u1", core.DurableID("e2"))
	if err != nil || e.Amount.Cents != 200 {
		t.Fatalf("get: %+v err=%v", e, err)
	}
	if _, err := repo.GetExpense(ctx, "u2", core.DurableID("e2")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}

	e.Description = "Dinner"
	e.UpdatedAt = t0.Add(time.Hour)
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := repo.GetExpense(ctx, "u1", e.ID)
	if got.Description != "Dinner" || !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := repo.DeleteExpense(ctx, "u1", e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteExpense(ctx, "u1", e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	missing := testExpense("nope", "u1", 100, t0)
	if err := repo.UpdateExpense(ctx, missing); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on missing update, got %v", err)
	}
}

func TestOptimisticIDsAreRejected(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	e := testExpense("x", "u1", 100, time.Now())
	e.ID = core.OptimisticID("x")
	if err := repo.InsertExpense(ctx, e); err == nil {
		t.Fatalf("expected error storing optimistic id")
	}
	if err := repo.DeleteExpense(ctx, "u1", e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	if _, ok, err := repo.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := repo.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := repo.Get(ctx, "k")
	if err != nil || !ok || string(v) != "two" {
		t.Fatalf("unexpected value %q ok=%v err=%v", v, ok, err)
	}
	if err := repo.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "k"); ok {
		t.Fatalf("key not removed")
	}
}

func TestMigrationVersionAndRollback(t *testing.T) {
	_, path := newTestRepo(t)

	v, dirty, err := MigrationVersion(path)
	if err != nil || dirty || v != 1 {
		t.Fatalf("expected version 1 clean, got v=%d dirty=%v err=%v", v, dirty, err)
	}
	if err := RunMigrations(path); err != nil {
		t.Fatalf("re-running migrations must be a no-op, got %v", err)
	}
	if err := RollbackMigrations(path, 1); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if v, _, err := MigrationVersion(path); err != nil || v != 0 {
		t.Fatalf("expected no version after rollback, got %d err=%v", v, err)
	}
	if err := RollbackMigrations(path, 0); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}
