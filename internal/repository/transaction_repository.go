package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MreRes/financial-bot/internal/models"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, category, description, date, source, chat_handle, tags, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		t.ID, t.UserID, t.Type, t.Amount, models.NormalizeCategory(t.Category), t.Description,
		t.Date, t.Source, t.ChatHandle, pq.Array(t.Tags), t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	t.Category = models.NormalizeCategory(t.Category)
	return nil
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, userID, txID string) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount, category, description, date, source, chat_handle, tags, status, created_at, updated_at
		 FROM transactions WHERE id = $1 AND user_id = $2`, txID, userID,
	).Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Category, &t.Description, &t.Date,
		&t.Source, &t.ChatHandle, pq.Array(&t.Tags), &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, txID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		 SET type = $3, amount = $4, category = $5, description = $6, date = $7,
		     tags = $8, status = $9, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		t.ID, t.UserID, t.Type, t.Amount, models.NormalizeCategory(t.Category),
		t.Description, t.Date, pq.Array(t.Tags), t.Status)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: transaction %s", models.ErrNotFound, t.ID)
	}
	t.Category = models.NormalizeCategory(t.Category)
	return nil
}

func (r *TransactionRepository) DeleteTransaction(ctx context.Context, userID, txID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`, txID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: transaction %s", models.ErrNotFound, txID)
	}
	return nil
}

func (r *TransactionRepository) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount, category, description, date, source, chat_handle, tags, status, created_at, updated_at
		 FROM transactions
		 WHERE user_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date DESC`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Category, &t.Description,
			&t.Date, &t.Source, &t.ChatHandle, pq.Array(&t.Tags), &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SumByType totals completed transactions of one type over a date range.
func (r *TransactionRepository) SumByType(ctx context.Context, userID string, txType models.TransactionType, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND type = $2 AND status = 'completed' AND date >= $3 AND date <= $4`,
		userID, txType, from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

type CategoryTotal struct {
	Category string
	Total    int64
	Count    int
}

// CategorySummary groups completed spending by category, largest first.
func (r *TransactionRepository) CategorySummary(ctx context.Context, userID string, txType models.TransactionType, from, to time.Time) ([]CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, COALESCE(SUM(amount), 0), COUNT(*)
		 FROM transactions
		 WHERE user_id = $1 AND type = $2 AND status = 'completed' AND date >= $3 AND date <= $4
		 GROUP BY category
		 ORDER BY 2 DESC`,
		userID, txType, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize categories: %w", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, err
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// SumCategory totals completed expenses for one category inside a window.
// Used by the out-of-band reconciliation pass.
func (r *TransactionRepository) SumCategory(ctx context.Context, userID, category string, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND type = 'expense' AND status = 'completed'
		   AND category = $2 AND date >= $3 AND date <= $4`,
		userID, models.NormalizeCategory(category), from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum category: %w", err)
	}
	return total, nil
}
