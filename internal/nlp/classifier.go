package nlp

import (
	"context"
	"strings"

	"github.com/MreRes/financial-bot/internal/models"
)

const (
	IntentTransactionIncome  = "transaction.income"
	IntentTransactionExpense = "transaction.expense"
	IntentBudgetSet          = "budget.set"
	IntentBudgetView         = "budget.view"
	IntentBudgetRemaining    = "budget.remaining"
	IntentReportDaily        = "report.daily"
	IntentReportWeekly       = "report.weekly"
	IntentReportMonthly      = "report.monthly"
)

// Result is one classification outcome. An empty Intent means the text was
// not understood.
type Result struct {
	Intent     string
	Confidence float64
	Entities   map[string]string
}

// Classifier turns free text into a financial intent.
type Classifier interface {
	Classify(ctx context.Context, locale, text string) (Result, error)
}

type document struct {
	locale string
	phrase string
	intent string
}

// RuleClassifier matches messages against a trained phrase set, the same
// document set the production bot was trained on, plus English equivalents.
type RuleClassifier struct {
	docs []document
}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{docs: []document{
		// income
		{"id", "terima gaji", IntentTransactionIncome},
		{"id", "dapat uang", IntentTransactionIncome},
		{"id", "masuk", IntentTransactionIncome},
		{"en", "received salary", IntentTransactionIncome},
		{"en", "got paid", IntentTransactionIncome},
		{"en", "income", IntentTransactionIncome},
		// expense
		{"id", "bayar", IntentTransactionExpense},
		{"id", "beli", IntentTransactionExpense},
		{"id", "keluar", IntentTransactionExpense},
		{"en", "paid", IntentTransactionExpense},
		{"en", "bought", IntentTransactionExpense},
		{"en", "spent", IntentTransactionExpense},
		// budgets
		{"id", "atur budget", IntentBudgetSet},
		{"id", "lihat budget", IntentBudgetView},
		{"id", "sisa budget", IntentBudgetRemaining},
		{"en", "set budget", IntentBudgetSet},
		{"en", "show budget", IntentBudgetView},
		{"en", "budget left", IntentBudgetRemaining},
		// reports
		{"id", "laporan harian", IntentReportDaily},
		{"id", "laporan mingguan", IntentReportWeekly},
		{"id", "laporan bulanan", IntentReportMonthly},
		{"en", "daily report", IntentReportDaily},
		{"en", "weekly report", IntentReportWeekly},
		{"en", "monthly report", IntentReportMonthly},
	}}
}

// Classify picks the longest matching phrase for the locale. Longer phrases
// score higher so "sisa budget" beats a bare "budget" mention.
func (c *RuleClassifier) Classify(ctx context.Context, locale, text string) (Result, error) {
	lower := strings.ToLower(text)

	var best *document
	for i := range c.docs {
		doc := &c.docs[i]
		if locale != "" && doc.locale != locale {
			continue
		}
		if !containsPhrase(lower, doc.phrase) {
			continue
		}
		if best == nil || len(doc.phrase) > len(best.phrase) {
			best = doc
		}
	}
	if best == nil {
		return Result{}, nil
	}

	confidence := 0.75
	if strings.Contains(best.phrase, " ") {
		confidence = 0.9
	}
	return Result{
		Intent:     best.intent,
		Confidence: confidence,
		Entities:   ExtractEntities(text, best.phrase),
	}, nil
}

// MatchCustom checks a session's custom phrase mappings ahead of the
// built-in document set.
func MatchCustom(phrases []models.CustomPhrase, text string) (Result, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p.Phrase == "" || p.Intent == "" {
			continue
		}
		if containsPhrase(lower, strings.ToLower(p.Phrase)) {
			return Result{
				Intent:     p.Intent,
				Confidence: 0.95,
				Entities:   ExtractEntities(text, p.Phrase),
			}, true
		}
	}
	return Result{}, false
}

// containsPhrase matches on word boundaries: "masuk" should not fire on
// "masukan".
func containsPhrase(text, phrase string) bool {
	words := strings.Fields(text)
	parts := strings.Fields(phrase)
	if len(parts) == 0 || len(parts) > len(words) {
		return false
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
