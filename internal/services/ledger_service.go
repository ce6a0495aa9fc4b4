package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
)

// TransactionStore is the ledger-side storage contract.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, userID, txID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	DeleteTransaction(ctx context.Context, userID, txID string) error
	SumCategory(ctx context.Context, userID, category string, from, to time.Time) (int64, error)
}

// BudgetStore is the budget-side storage contract. ApplyDelta must be an
// atomic increment at the storage layer: the engine itself holds no locks
// and stays stateless.
type BudgetStore interface {
	ListActiveBudgets(ctx context.Context, userID string, now time.Time) ([]models.Budget, error)
	ApplyDelta(ctx context.Context, budgetID, category string, delta int64) (catSpent, totalSpent int64, err error)
	SetSpent(ctx context.Context, budgetID, category string, spent int64) error
}

// LedgerService keeps budget aggregates consistent with the transaction
// ledger. Every completed-expense create, edit and delete flows through it.
type LedgerService struct {
	txs     TransactionStore
	budgets BudgetStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewLedgerService(txs TransactionStore, budgets BudgetStore, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		txs:     txs,
		budgets: budgets,
		log:     log,
		now:     time.Now,
	}
}

// CreateTransaction persists the entry and, for a completed expense, adds
// its amount to every matching active budget. Returns any alerts the delta
// triggered.
func (s *LedgerService) CreateTransaction(ctx context.Context, t *models.Transaction) ([]models.Alert, error) {
	if t.Status == "" {
		t.Status = models.TxCompleted
	}
	if t.Date.IsZero() {
		t.Date = s.now()
	}
	t.Category = models.NormalizeCategory(t.Category)
	if err := models.ValidateTransaction(t); err != nil {
		return nil, err
	}

	if err := s.txs.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("tx_id", t.ID).
		Str("type", string(t.Type)).
		Int64("amount", t.Amount).
		Str("category", t.Category).
		Msg("transaction created")

	if !isCompletedExpense(t) {
		return nil, nil
	}
	return s.ApplyDelta(ctx, t.UserID, t.Category, t.Amount)
}

// UpdateTransaction edits an entry. A previously counted expense is fully
// reversed before the new version is applied: when the category changed,
// old and new values may target different budgets, so a net delta is not
// enough.
func (s *LedgerService) UpdateTransaction(ctx context.Context, t *models.Transaction) ([]models.Alert, error) {
	t.Category = models.NormalizeCategory(t.Category)
	if err := models.ValidateTransaction(t); err != nil {
		return nil, err
	}

	old, err := s.txs.GetTransaction(ctx, t.UserID, t.ID)
	if err != nil {
		return nil, err
	}

	if isCompletedExpense(old) {
		if _, err := s.ApplyDelta(ctx, old.UserID, old.Category, -old.Amount); err != nil {
			return nil, err
		}
	}

	if err := s.txs.UpdateTransaction(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().Str("tx_id", t.ID).Msg("transaction updated")

	if !isCompletedExpense(t) {
		return nil, nil
	}
	return s.ApplyDelta(ctx, t.UserID, t.Category, t.Amount)
}

// DeleteTransaction reverses a counted expense before removing the record.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, txID string) error {
	t, err := s.txs.GetTransaction(ctx, userID, txID)
	if err != nil {
		return err
	}

	if isCompletedExpense(t) {
		if _, err := s.ApplyDelta(ctx, userID, t.Category, -t.Amount); err != nil {
			return err
		}
	}

	if err := s.txs.DeleteTransaction(ctx, userID, txID); err != nil {
		return err
	}
	s.log.Info().Str("tx_id", txID).Msg("transaction deleted")
	return nil
}

// ApplyDelta adjusts spent figures on every active budget carrying the
// category. Positive delta adds spend, negative reverses it. The active
// filter is evaluated against wall-clock now, not the transaction date: a
// budget whose window has elapsed is not touched even for a transaction
// dated inside it.
func (s *LedgerService) ApplyDelta(ctx context.Context, userID, category string, delta int64) ([]models.Alert, error) {
	budgets, err := s.budgets.ListActiveBudgets(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active budgets: %w", err)
	}

	var alerts []models.Alert
	for i := range budgets {
		b := &budgets[i]
		cat := b.Category(category)
		if cat == nil {
			continue
		}

		catSpent, totalSpent, err := s.budgets.ApplyDelta(ctx, b.ID, category, delta)
		if err != nil {
			// one retry, then surface: the session worker records it
			catSpent, totalSpent, err = s.budgets.ApplyDelta(ctx, b.ID, category, delta)
			if err != nil {
				return alerts, fmt.Errorf("apply delta to budget %s: %w", b.ID, err)
			}
		}
		s.log.Debug().
			Str("budget_id", b.ID).
			Str("category", cat.Name).
			Int64("delta", delta).
			Int64("category_spent", catSpent).
			Int64("total_spent", totalSpent).
			Msg("budget delta applied")

		cat.Spent = catSpent
		b.TotalSpent = totalSpent
		if a, ok := overallAlert(b); ok {
			alerts = append(alerts, a)
		}
		if a, ok := categoryAlert(b, cat); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

// Alerts evaluates thresholds across all active budgets on demand.
func (s *LedgerService) Alerts(ctx context.Context, userID string) ([]models.Alert, error) {
	budgets, err := s.budgets.ListActiveBudgets(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active budgets: %w", err)
	}

	var alerts []models.Alert
	for i := range budgets {
		b := &budgets[i]
		if a, ok := overallAlert(b); ok {
			alerts = append(alerts, a)
		}
		for j := range b.Categories {
			if a, ok := categoryAlert(b, &b.Categories[j]); ok {
				alerts = append(alerts, a)
			}
		}
	}
	return alerts, nil
}

// Reconcile recomputes spent figures for every active budget directly from
// the ledger and rewrites drifted rows. Out-of-band repair only; the write
// path stays incremental.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) error {
	budgets, err := s.budgets.ListActiveBudgets(ctx, userID, s.now())
	if err != nil {
		return fmt.Errorf("list active budgets: %w", err)
	}

	for i := range budgets {
		b := &budgets[i]
		for _, cat := range b.Categories {
			expected, err := s.txs.SumCategory(ctx, userID, cat.Name, b.StartDate, b.EndDate)
			if err != nil {
				return err
			}
			if expected == cat.Spent {
				continue
			}
			s.log.Warn().
				Str("budget_id", b.ID).
				Str("category", cat.Name).
				Int64("recorded", cat.Spent).
				Int64("expected", expected).
				Msg("budget drift detected, repairing")
			if err := s.budgets.SetSpent(ctx, b.ID, cat.Name, expected); err != nil {
				return err
			}
		}
	}
	return nil
}

func isCompletedExpense(t *models.Transaction) bool {
	return t.Type == models.TypeExpense && t.Status == models.TxCompleted
}

const overallAlertThreshold = 80

func overallAlert(b *models.Budget) (models.Alert, bool) {
	pct := models.PercentUsed(b.TotalSpent, b.TotalBudget)
	if pct < overallAlertThreshold {
		return models.Alert{}, false
	}
	severity := models.SeverityMedium
	if pct >= 100 {
		severity = models.SeverityHigh
	}
	return models.Alert{
		Type:       models.AlertOverall,
		BudgetID:   b.ID,
		BudgetName: b.Name,
		Message:    fmt.Sprintf("Overall budget is at %.1f%%", pct),
		Severity:   severity,
	}, true
}

func categoryAlert(b *models.Budget, cat *models.BudgetCategory) (models.Alert, bool) {
	if !cat.AlertsEnabled {
		return models.Alert{}, false
	}
	threshold := cat.AlertThreshold
	if threshold == 0 {
		threshold = overallAlertThreshold
	}
	pct := models.PercentUsed(cat.Spent, cat.Limit)
	if pct < threshold {
		return models.Alert{}, false
	}
	severity := models.SeverityMedium
	if cat.Spent > cat.Limit {
		severity = models.SeverityHigh
	}
	return models.Alert{
		Type:       models.AlertCategory,
		BudgetID:   b.ID,
		BudgetName: b.Name,
		Category:   cat.Name,
		Message:    fmt.Sprintf("Category %s is at %.1f%%", cat.Name, pct),
		Severity:   severity,
	}, true
}
