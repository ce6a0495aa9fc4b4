package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
	"github.com/MreRes/financial-bot/internal/nlp"
)

// Ledger is the slice of the consistency engine the dispatcher writes
// through.
type Ledger interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) ([]models.Alert, error)
}

// BudgetWriter upserts a category limit into the active budget.
type BudgetWriter interface {
	SetCategoryLimit(ctx context.Context, userID, category string, limit int64) error
}

// Reporter renders the read-only summaries.
type Reporter interface {
	Summary(ctx context.Context, userID string, period ReportPeriod, lang, timezone string) (string, error)
	BudgetSummary(ctx context.Context, userID, lang string) (string, error)
}

const defaultConfidence = 0.7

// DispatcherService classifies inbound chat messages and routes recognized
// intents. It never lets a classification or extraction failure escape: the
// worst outcome is the fallback reply plus an error for the session log.
type DispatcherService struct {
	classifier nlp.Classifier
	ledger     Ledger
	budgets    BudgetWriter
	reports    Reporter
	prefix     string
	confidence float64
	log        zerolog.Logger
}

// NewDispatcherService wires the dispatcher. confidence is the threshold used
// when a session carries none of its own; values <= 0 fall back to 0.7.
func NewDispatcherService(
	classifier nlp.Classifier,
	ledger Ledger,
	budgets BudgetWriter,
	reports Reporter,
	prefix string,
	confidence float64,
	log zerolog.Logger,
) *DispatcherService {
	if confidence <= 0 {
		confidence = defaultConfidence
	}
	return &DispatcherService{
		classifier: classifier,
		ledger:     ledger,
		budgets:    budgets,
		reports:    reports,
		prefix:     prefix,
		confidence: confidence,
		log:        log,
	}
}

// Handle processes one inbound message and returns the reply text. An empty
// reply means nothing should be sent (command prefix, NLP disabled). The
// returned error is for the session error log; the reply stays usable
// either way.
func (s *DispatcherService) Handle(ctx context.Context, sess *models.Session, text string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(text), s.prefix) {
		return "", nil
	}
	if !sess.NLP.Enabled {
		return "", nil
	}
	lang := sess.Settings.Language

	result, ok := nlp.MatchCustom(sess.NLP.CustomPhrases, text)
	if !ok {
		var err error
		result, err = s.classifier.Classify(ctx, lang, text)
		if err != nil {
			return reply(lang, "not_understood"), fmt.Errorf("classify: %w", err)
		}
	}

	threshold := sess.NLP.Confidence
	if threshold <= 0 {
		threshold = s.confidence
	}
	if result.Intent == "" || result.Confidence < threshold {
		return reply(lang, "not_understood"), nil
	}

	s.log.Debug().
		Str("session_id", sess.ID).
		Str("intent", result.Intent).
		Float64("confidence", result.Confidence).
		Msg("intent classified")

	switch result.Intent {
	case nlp.IntentTransactionIncome, nlp.IntentTransactionExpense:
		return s.handleTransaction(ctx, sess, result, text)
	case nlp.IntentBudgetSet:
		return s.handleBudgetSet(ctx, sess, result)
	case nlp.IntentBudgetView, nlp.IntentBudgetRemaining:
		summary, err := s.reports.BudgetSummary(ctx, sess.UserID, lang)
		if err != nil {
			return reply(lang, "error"), fmt.Errorf("budget summary: %w", err)
		}
		return summary, nil
	case nlp.IntentReportDaily:
		return s.handleReport(ctx, sess, ReportDaily)
	case nlp.IntentReportWeekly:
		return s.handleReport(ctx, sess, ReportWeekly)
	case nlp.IntentReportMonthly:
		return s.handleReport(ctx, sess, ReportMonthly)
	default:
		return reply(lang, "not_understood"), nil
	}
}

func (s *DispatcherService) handleTransaction(ctx context.Context, sess *models.Session, result nlp.Result, text string) (string, error) {
	lang := sess.Settings.Language

	raw, ok := result.Entities["amount"]
	if !ok {
		return reply(lang, "bad_amount"), nil
	}
	amount, err := nlp.ParseAmount(raw)
	if err != nil {
		return reply(lang, "bad_amount"), nil
	}

	txType := models.TypeExpense
	if result.Intent == nlp.IntentTransactionIncome {
		txType = models.TypeIncome
	}
	category := result.Entities["category"]
	if category == "" {
		category = "uncategorized"
	}

	t := &models.Transaction{
		UserID:      sess.UserID,
		Type:        txType,
		Amount:      amount,
		Category:    category,
		Description: text,
		Source:      models.SourceChat,
		ChatHandle:  sess.Handle,
		Status:      models.TxCompleted,
	}
	alerts, err := s.ledger.CreateTransaction(ctx, t)
	if err != nil {
		return reply(lang, "error"), fmt.Errorf("create transaction: %w", err)
	}

	key := "expense_logged"
	if txType == models.TypeIncome {
		key = "income_logged"
	}
	answer := fmt.Sprintf(reply(lang, key), formatSigned(lang, txType, amount))
	if sess.Settings.BudgetAlerts {
		for _, a := range alerts {
			answer += "\n⚠️ " + a.Message
		}
	}
	return answer, nil
}

func (s *DispatcherService) handleBudgetSet(ctx context.Context, sess *models.Session, result nlp.Result) (string, error) {
	lang := sess.Settings.Language

	category := result.Entities["category"]
	raw, ok := result.Entities["amount"]
	if !ok || category == "" {
		return reply(lang, "bad_amount"), nil
	}
	limit, err := nlp.ParseAmount(raw)
	if err != nil {
		return reply(lang, "bad_amount"), nil
	}

	err = s.budgets.SetCategoryLimit(ctx, sess.UserID, category, limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return reply(lang, "no_budget"), nil
		}
		return reply(lang, "error"), fmt.Errorf("set category limit: %w", err)
	}
	return fmt.Sprintf(reply(lang, "budget_set"), models.NormalizeCategory(category), formatAmount(lang, limit)), nil
}

func (s *DispatcherService) handleReport(ctx context.Context, sess *models.Session, period ReportPeriod) (string, error) {
	lang := sess.Settings.Language
	summary, err := s.reports.Summary(ctx, sess.UserID, period, lang, sess.Settings.Timezone)
	if err != nil {
		return reply(lang, "error"), fmt.Errorf("report summary: %w", err)
	}
	return summary, nil
}
