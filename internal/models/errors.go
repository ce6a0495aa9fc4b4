package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrQuotaExceeded       = errors.New("chat handle quota exceeded")
	ErrDuplicateHandle     = errors.New("chat handle already registered")
	ErrTransport           = errors.New("chat transport failure")
	ErrConsistencyConflict = errors.New("budget update rejected")
)

type AlertType string

const (
	AlertOverall  AlertType = "overall"
	AlertCategory AlertType = "category"
)

type AlertSeverity string

const (
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Alert - a threshold breach on a budget or one of its categories
type Alert struct {
	Type       AlertType
	BudgetID   string
	BudgetName string
	Category   string
	Message    string
	Severity   AlertSeverity
}

// NormalizeCategory folds a free-text category to its canonical form.
func NormalizeCategory(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PercentUsed computes spent/limit as a percentage. A zero limit counts as
// 0% unused, or immediately exceeded when anything was spent.
func PercentUsed(spent, limit int64) float64 {
	if limit == 0 {
		if spent > 0 {
			return 101 // no limit but money spent: past any threshold
		}
		return 0
	}
	return float64(spent) / float64(limit) * 100
}

// ValidateBudget checks the create/update invariants.
func ValidateBudget(b *Budget) error {
	if b.Name == "" {
		return fmt.Errorf("%w: budget name is required", ErrValidation)
	}
	if b.EndDate.Before(b.StartDate) {
		return fmt.Errorf("%w: budget end date precedes start date", ErrValidation)
	}
	var sum int64
	for _, c := range b.Categories {
		if c.Limit < 0 {
			return fmt.Errorf("%w: category %q has a negative limit", ErrValidation, c.Name)
		}
		if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
			return fmt.Errorf("%w: category %q threshold out of range", ErrValidation, c.Name)
		}
		sum += c.Limit
	}
	if sum != b.TotalBudget {
		return fmt.Errorf("%w: total budget must match sum of category limits", ErrValidation)
	}
	return nil
}

// ValidateHandle checks the chat handle format: 10-15 digits, matching the
// phone-number form the transport pairs against.
func ValidateHandle(handle string) error {
	if len(handle) < 10 || len(handle) > 15 {
		return fmt.Errorf("%w: handle must be 10-15 digits", ErrValidation)
	}
	for _, ch := range handle {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("%w: handle must contain only digits", ErrValidation)
		}
	}
	return nil
}

// ValidateTransaction checks a ledger entry before it is persisted.
func ValidateTransaction(t *Transaction) error {
	if t.Type != TypeIncome && t.Type != TypeExpense {
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t.Type)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: amount cannot be negative", ErrValidation)
	}
	if t.Category == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	return nil
}

// TruncateToDay drops the time-of-day component in the given location.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
