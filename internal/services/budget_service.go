package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
)

// BudgetAdmin is the management-side storage contract for budgets.
type BudgetAdmin interface {
	CreateBudget(ctx context.Context, b *models.Budget) error
	GetBudget(ctx context.Context, userID, budgetID string) (*models.Budget, error)
	UpdateBudget(ctx context.Context, b *models.Budget) error
	DeleteBudget(ctx context.Context, userID, budgetID string) error
	ListActiveBudgets(ctx context.Context, userID string, now time.Time) ([]models.Budget, error)
	UpsertCategory(ctx context.Context, budgetID, category string, limit int64) error
}

// BudgetService owns budget CRUD and the chat-driven category upsert.
type BudgetService struct {
	budgets BudgetAdmin
	log     zerolog.Logger
	now     func() time.Time
}

func NewBudgetService(budgets BudgetAdmin, log zerolog.Logger) *BudgetService {
	return &BudgetService{
		budgets: budgets,
		log:     log,
		now:     time.Now,
	}
}

func (s *BudgetService) CreateBudget(ctx context.Context, b *models.Budget) (*models.Budget, error) {
	if b.Status == "" {
		b.Status = models.BudgetActive
	}
	if err := s.budgets.CreateBudget(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info().Str("budget_id", b.ID).Str("name", b.Name).Msg("budget created")
	return b, nil
}

func (s *BudgetService) GetBudget(ctx context.Context, userID, budgetID string) (*models.Budget, error) {
	return s.budgets.GetBudget(ctx, userID, budgetID)
}

func (s *BudgetService) UpdateBudget(ctx context.Context, b *models.Budget) error {
	if err := s.budgets.UpdateBudget(ctx, b); err != nil {
		return err
	}
	s.log.Info().Str("budget_id", b.ID).Msg("budget updated")
	return nil
}

func (s *BudgetService) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	if err := s.budgets.DeleteBudget(ctx, userID, budgetID); err != nil {
		return err
	}
	s.log.Info().Str("budget_id", budgetID).Msg("budget deleted")
	return nil
}

func (s *BudgetService) ListActiveBudgets(ctx context.Context, userID string) ([]models.Budget, error) {
	return s.budgets.ListActiveBudgets(ctx, userID, s.now())
}

// SetCategoryLimit upserts one category limit into the user's current
// active budget. With several active budgets the most recently started one
// wins. Returns ErrNotFound when no budget is active.
func (s *BudgetService) SetCategoryLimit(ctx context.Context, userID, category string, limit int64) error {
	budgets, err := s.budgets.ListActiveBudgets(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if len(budgets) == 0 {
		return fmt.Errorf("%w: no active budget", models.ErrNotFound)
	}

	target := budgets[0]
	if err := s.budgets.UpsertCategory(ctx, target.ID, category, limit); err != nil {
		return err
	}
	s.log.Info().
		Str("budget_id", target.ID).
		Str("category", models.NormalizeCategory(category)).
		Int64("limit", limit).
		Msg("category limit set")
	return nil
}
