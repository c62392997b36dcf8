package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spendsync/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository persists expenses and key/value records in one SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) InsertExpense(ctx context.Context, e core.Expense) error {
	if e.ID.IsOptimistic() {
		return fmt.Errorf("insert expense: optimistic id %s cannot be stored", e.ID)
	}
	if err := r.queries.CreateExpense(ctx, toRow(e)); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID.String(),
		"user_id", e.UserID,
		"amount_cents", e.Amount.Cents,
		"category", e.Category)
	return nil
}

// ListExpenses returns userID's expenses, newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.queries.ListExpensesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetExpense returns the expense id owned by userID or core.ErrNotFound.
func (r *SQLiteRepository) GetExpense(ctx context.Context, userID string, id core.ExpenseID) (core.Expense, error) {
	if id.IsOptimistic() {
		return core.Expense{}, core.ErrNotFound
	}
	row, err := r.queries.GetExpense(ctx, id.Value(), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return fromRow(row)
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	if e.ID.IsOptimistic() {
		return core.ErrNotFound
	}
	n, err := r.queries.UpdateExpense(ctx, toRow(e))
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Expense updated in SQLite", "id", e.ID.String(), "user_id", e.UserID)
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID string, id core.ExpenseID) error {
	if id.IsOptimistic() {
		return core.ErrNotFound
	}
	n, err := r.queries.DeleteExpense(ctx, id.Value(), userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Expense deleted from SQLite", "id", id.String(), "user_id", userID)
	return nil
}

// Get implements localstore.Store over the kv table.
func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.queries.GetKV(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return v, true, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := r.queries.SetKV(ctx, key, value, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, key string) error {
	if err := r.queries.DeleteKV(ctx, key); err != nil {
		return fmt.Errorf("delete kv %s: %w", key, err)
	}
	return nil
}

func toRow(e core.Expense) ExpenseRow {
	return ExpenseRow{
		ID:          e.ID.Value(),
		UserID:      e.UserID,
		AmountCents: e.Amount.Cents,
		Category:    string(e.Category),
		Description: e.Description,
		Date:        e.Date.String(),
		CreatedAt:   e.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   e.UpdatedAt.UTC().Format(timeLayout),
	}
}

func fromRow(row ExpenseRow) (core.Expense, error) {
	date, err := core.ParseDate(row.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: parse date: %w", row.ID, err)
	}
	created, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: parse created_at: %w", row.ID, err)
	}
	updated, err := time.Parse(timeLayout, row.UpdatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: parse updated_at: %w", row.ID, err)
	}
	return core.Expense{
		ID:          core.DurableID(row.ID),
		UserID:      row.UserID,
		Amount:      core.Money{Cents: row.AmountCents},
		Category:    core.Category(row.Category),
		Description: row.Description,
		Date:        date,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}
