package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// ExpenseRow mirrors a row of the expenses table.
type ExpenseRow struct {
	ID          string
	UserID      string
	AmountCents int64
	Category    string
	Description string
	Date        string
	CreatedAt   string
	UpdatedAt   string
}

const expenseColumns = `id, user_id, amount_cents, category, description, date, created_at, updated_at`

const createExpense = `INSERT INTO expenses (` + expenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, arg ExpenseRow) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		arg.ID, arg.UserID, arg.AmountCents, arg.Category, arg.Description, arg.Date, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const listExpensesByUser = `SELECT ` + expenseColumns + ` FROM expenses WHERE user_id = ? ORDER BY created_at DESC, id`

func (q *Queries) ListExpensesByUser(ctx context.Context, userID string) ([]ExpenseRow, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseRow
	for rows.Next() {
		var i ExpenseRow
		if err := rows.Scan(&i.ID, &i.UserID, &i.AmountCents, &i.Category, &i.Description, &i.Date, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ? AND user_id = ?`

func (q *Queries) GetExpense(ctx context.Context, id, userID string) (ExpenseRow, error) {
	row := q.db.QueryRowContext(ctx, getExpense, id, userID)
	var i ExpenseRow
	err := row.Scan(&i.ID, &i.UserID, &i.AmountCents, &i.Category, &i.Description, &i.Date, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const updateExpense = `UPDATE expenses
SET amount_cents = ?, category = ?, description = ?, date = ?, updated_at = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, arg ExpenseRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense,
		arg.AmountCents, arg.Category, arg.Description, arg.Date, arg.UpdatedAt, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpense = `DELETE FROM expenses WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, id, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getKV = `SELECT value FROM kv WHERE key = ?`

func (q *Queries) GetKV(ctx context.Context, key string) ([]byte, error) {
	row := q.db.QueryRowContext(ctx, getKV, key)
	var value []byte
	err := row.Scan(&value)
	return value, err
}

const setKV = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) SetKV(ctx context.Context, key string, value []byte, updatedAt string) error {
	_, err := q.db.ExecContext(ctx, setKV, key, value, updatedAt)
	return err
}

const deleteKV = `DELETE FROM kv WHERE key = ?`

func (q *Queries) DeleteKV(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteKV, key)
	return err
}
