package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
	"github.com/MreRes/financial-bot/internal/repository"
)

type ReportPeriod string

const (
	ReportDaily   ReportPeriod = "daily"
	ReportWeekly  ReportPeriod = "weekly"
	ReportMonthly ReportPeriod = "monthly"
)

// TransactionReader is the read-only ledger contract behind the report
// intents.
type TransactionReader interface {
	SumByType(ctx context.Context, userID string, txType models.TransactionType, from, to time.Time) (int64, error)
	CategorySummary(ctx context.Context, userID string, txType models.TransactionType, from, to time.Time) ([]repository.CategoryTotal, error)
}

// BudgetReader lists active budgets for the summary replies.
type BudgetReader interface {
	ListActiveBudgets(ctx context.Context, userID string, now time.Time) ([]models.Budget, error)
}

// ReportService renders the read-only summaries served over chat.
type ReportService struct {
	txs     TransactionReader
	budgets BudgetReader
	log     zerolog.Logger
	now     func() time.Time
}

func NewReportService(txs TransactionReader, budgets BudgetReader, log zerolog.Logger) *ReportService {
	return &ReportService{
		txs:     txs,
		budgets: budgets,
		log:     log,
		now:     time.Now,
	}
}

// Summary renders income/expense totals and the expense category breakdown
// for a period, in the session's language and timezone.
func (s *ReportService) Summary(ctx context.Context, userID string, period ReportPeriod, lang, timezone string) (string, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	now := s.now().In(loc)
	from := models.TruncateToDay(now, loc)
	periodKey := "period_daily"
	switch period {
	case ReportWeekly:
		from = from.AddDate(0, 0, -6)
		periodKey = "period_weekly"
	case ReportMonthly:
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		periodKey = "period_monthly"
	}

	income, err := s.txs.SumByType(ctx, userID, models.TypeIncome, from, now)
	if err != nil {
		return "", err
	}
	expense, err := s.txs.SumByType(ctx, userID, models.TypeExpense, from, now)
	if err != nil {
		return "", err
	}
	byCategory, err := s.txs.CategorySummary(ctx, userID, models.TypeExpense, from, now)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", reply(lang, "report_header"), reply(lang, periodKey))
	fmt.Fprintf(&b, "%s: %s\n", reply(lang, "income"), formatAmount(lang, income))
	fmt.Fprintf(&b, "%s: %s\n", reply(lang, "expense"), formatAmount(lang, expense))
	fmt.Fprintf(&b, "%s: %s", reply(lang, "net"), formatAmount(lang, income-expense))
	for _, ct := range byCategory {
		fmt.Fprintf(&b, "\n- %s: %s", ct.Category, formatAmount(lang, ct.Total))
	}
	return b.String(), nil
}

// BudgetSummary renders every active budget with totals and per-category
// remaining amounts.
func (s *ReportService) BudgetSummary(ctx context.Context, userID, lang string) (string, error) {
	budgets, err := s.budgets.ListActiveBudgets(ctx, userID, s.now())
	if err != nil {
		return "", err
	}
	if len(budgets) == 0 {
		return reply(lang, "no_budgets"), nil
	}

	var b strings.Builder
	b.WriteString(reply(lang, "budget_header"))
	for i := range budgets {
		budget := &budgets[i]
		fmt.Fprintf(&b, "\n%s: %s / %s (%s %s)",
			budget.Name,
			formatAmount(lang, budget.TotalSpent),
			formatAmount(lang, budget.TotalBudget),
			reply(lang, "remaining"),
			formatAmount(lang, budget.TotalBudget-budget.TotalSpent))
		for _, cat := range budget.Categories {
			fmt.Fprintf(&b, "\n- %s: %s / %s (%.1f%%)",
				cat.Name,
				formatAmount(lang, cat.Spent),
				formatAmount(lang, cat.Limit),
				models.PercentUsed(cat.Spent, cat.Limit))
		}
	}
	return b.String(), nil
}
