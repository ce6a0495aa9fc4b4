package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MreRes/financial-bot/internal/models"
)

type BudgetRepository struct {
	db *sql.DB
}

func NewBudgetRepository(db *sql.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

func (r *BudgetRepository) CreateBudget(ctx context.Context, b *models.Budget) error {
	if err := models.ValidateBudget(b); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	notifications, err := json.Marshal(b.Alerts)
	if err != nil {
		return err
	}
	var recurring any
	if b.Recurring != nil {
		recurring, err = json.Marshal(b.Recurring)
		if err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO budgets (id, user_id, name, period, start_date, end_date, total_budget, total_spent, status, notifications, recurring)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		b.ID, b.UserID, b.Name, b.Period, b.StartDate, b.EndDate,
		b.TotalBudget, b.TotalSpent, b.Status, notifications, recurring,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}

	for i, c := range b.Categories {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO budget_categories (budget_id, name, limit_amount, spent, color, alerts_enabled, alert_threshold, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, models.NormalizeCategory(c.Name), c.Limit, c.Spent, c.Color,
			c.AlertsEnabled, c.AlertThreshold, i)
		if err != nil {
			return fmt.Errorf("failed to create budget category %q: %w", c.Name, err)
		}
	}

	return tx.Commit()
}

func (r *BudgetRepository) GetBudget(ctx context.Context, userID, budgetID string) (*models.Budget, error) {
	b, err := r.scanBudget(ctx, r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, period, start_date, end_date, total_budget, total_spent, status, notifications, recurring, created_at, updated_at
		 FROM budgets WHERE id = $1 AND user_id = $2`, budgetID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: budget %s", models.ErrNotFound, budgetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

func (r *BudgetRepository) scanBudget(ctx context.Context, row interface{ Scan(...any) error }) (*models.Budget, error) {
	b := &models.Budget{}
	var notifications []byte
	var recurring []byte
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Period, &b.StartDate, &b.EndDate,
		&b.TotalBudget, &b.TotalSpent, &b.Status, &notifications, &recurring, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(notifications, &b.Alerts); err != nil {
		return nil, fmt.Errorf("failed to decode budget notifications: %w", err)
	}
	if len(recurring) > 0 {
		b.Recurring = &models.RecurringConfig{}
		if err := json.Unmarshal(recurring, b.Recurring); err != nil {
			return nil, fmt.Errorf("failed to decode recurring config: %w", err)
		}
	}

	b.Categories, err = r.getCategories(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BudgetRepository) getCategories(ctx context.Context, budgetID string) ([]models.BudgetCategory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, limit_amount, spent, color, alerts_enabled, alert_threshold
		 FROM budget_categories WHERE budget_id = $1 ORDER BY position`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget categories: %w", err)
	}
	defer rows.Close()

	var cats []models.BudgetCategory
	for rows.Next() {
		var c models.BudgetCategory
		if err := rows.Scan(&c.Name, &c.Limit, &c.Spent, &c.Color, &c.AlertsEnabled, &c.AlertThreshold); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// ListActiveBudgets returns budgets with status=active whose window contains
// the given instant. The filter is relative to the instant, not to any
// transaction date.
func (r *BudgetRepository) ListActiveBudgets(ctx context.Context, userID string, now time.Time) ([]models.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, period, start_date, end_date, total_budget, total_spent, status, notifications, recurring, created_at, updated_at
		 FROM budgets
		 WHERE user_id = $1 AND status = 'active' AND start_date <= $2 AND end_date >= $2
		 ORDER BY start_date DESC`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active budgets: %w", err)
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		b := models.Budget{}
		var notifications, recurring []byte
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Period, &b.StartDate, &b.EndDate,
			&b.TotalBudget, &b.TotalSpent, &b.Status, &notifications, &recurring, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(notifications, &b.Alerts); err != nil {
			return nil, fmt.Errorf("failed to decode budget notifications: %w", err)
		}
		if len(recurring) > 0 {
			b.Recurring = &models.RecurringConfig{}
			if err := json.Unmarshal(recurring, b.Recurring); err != nil {
				return nil, fmt.Errorf("failed to decode recurring config: %w", err)
			}
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range budgets {
		budgets[i].Categories, err = r.getCategories(ctx, budgets[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return budgets, nil
}

// ApplyDelta adds delta to one category's spent figure and to the budget
// total in a single transaction of two atomic increments. No value is read
// back before writing, so concurrent deltas cannot be lost. Returns the new
// category and total spent.
func (r *BudgetRepository) ApplyDelta(ctx context.Context, budgetID, category string, delta int64) (catSpent, totalSpent int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`UPDATE budget_categories
		 SET spent = spent + $3
		 WHERE budget_id = $1 AND name = $2
		 RETURNING spent`,
		budgetID, models.NormalizeCategory(category), delta,
	).Scan(&catSpent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: category %q missing on budget %s", models.ErrConsistencyConflict, category, budgetID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment category spent: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE budgets
		 SET total_spent = total_spent + $2, updated_at = now()
		 WHERE id = $1
		 RETURNING total_spent`,
		budgetID, delta,
	).Scan(&totalSpent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: budget %s missing", models.ErrConsistencyConflict, budgetID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment total spent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit delta: %w", err)
	}
	return catSpent, totalSpent, nil
}

// UpsertCategory sets or inserts one category limit and keeps the budget
// total equal to the sum of limits.
func (r *BudgetRepository) UpsertCategory(ctx context.Context, budgetID, category string, limit int64) error {
	if limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative", models.ErrValidation)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO budget_categories (budget_id, name, limit_amount, position)
		 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position), -1) + 1 FROM budget_categories WHERE budget_id = $1))
		 ON CONFLICT (budget_id, name) DO UPDATE SET limit_amount = EXCLUDED.limit_amount`,
		budgetID, models.NormalizeCategory(category), limit)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE budgets
		 SET total_budget = (SELECT COALESCE(SUM(limit_amount), 0) FROM budget_categories WHERE budget_id = $1),
		     updated_at = now()
		 WHERE id = $1`,
		budgetID)
	if err != nil {
		return fmt.Errorf("failed to recompute total budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: budget %s", models.ErrNotFound, budgetID)
	}

	return tx.Commit()
}

// SetSpent overwrites one category's spent figure and re-derives the total.
// Reconciliation only; the write path uses ApplyDelta.
func (r *BudgetRepository) SetSpent(ctx context.Context, budgetID, category string, spent int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE budget_categories SET spent = $3 WHERE budget_id = $1 AND name = $2`,
		budgetID, models.NormalizeCategory(category), spent)
	if err != nil {
		return fmt.Errorf("failed to set spent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: category %q on budget %s", models.ErrNotFound, category, budgetID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE budgets
		 SET total_spent = (SELECT COALESCE(SUM(spent), 0) FROM budget_categories WHERE budget_id = $1),
		     updated_at = now()
		 WHERE id = $1`,
		budgetID)
	if err != nil {
		return fmt.Errorf("failed to recompute total spent: %w", err)
	}

	return tx.Commit()
}

func (r *BudgetRepository) UpdateBudget(ctx context.Context, b *models.Budget) error {
	if err := models.ValidateBudget(b); err != nil {
		return err
	}
	notifications, err := json.Marshal(b.Alerts)
	if err != nil {
		return err
	}
	var recurring any
	if b.Recurring != nil {
		recurring, err = json.Marshal(b.Recurring)
		if err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE budgets
		 SET name = $3, period = $4, start_date = $5, end_date = $6, total_budget = $7,
		     status = $8, notifications = $9, recurring = $10, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		b.ID, b.UserID, b.Name, b.Period, b.StartDate, b.EndDate, b.TotalBudget,
		b.Status, notifications, recurring)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: budget %s", models.ErrNotFound, b.ID)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM budget_categories WHERE budget_id = $1`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to replace categories: %w", err)
	}
	for i, c := range b.Categories {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO budget_categories (budget_id, name, limit_amount, spent, color, alerts_enabled, alert_threshold, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, models.NormalizeCategory(c.Name), c.Limit, c.Spent, c.Color,
			c.AlertsEnabled, c.AlertThreshold, i)
		if err != nil {
			return fmt.Errorf("failed to insert category %q: %w", c.Name, err)
		}
	}

	return tx.Commit()
}

func (r *BudgetRepository) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = $1 AND user_id = $2`, budgetID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: budget %s", models.ErrNotFound, budgetID)
	}
	return nil
}
