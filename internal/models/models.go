package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User - account owning transactions, budgets and chat sessions
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	Handles      []ChatHandle
	MaxHandles   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatHandle - one registered chat identity (phone number, telegram username)
type ChatHandle struct {
	Handle     string
	Active     bool
	LastActive time.Time
}

type SessionStatus string

const (
	SessionInactive SessionStatus = "inactive"
	SessionPending  SessionStatus = "pending"
	SessionActive   SessionStatus = "active"
	SessionExpired  SessionStatus = "expired"
)

// Session - authenticated channel state for one (user, handle) pair.
// Unique per (UserID, Handle).
type Session struct {
	ID          string
	UserID      string
	Handle      string
	Status      SessionStatus
	PairingCode string // QR payload or pairing code from the transport
	LastActive  time.Time
	Settings    SessionSettings
	NLP         NLPSettings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SessionSettings struct {
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	AutoReplyText    string `json:"auto_reply_text"`
	BudgetAlerts     bool   `json:"budget_alerts"`
	DailySummary     bool   `json:"daily_summary"`
	WeeklyReport     bool   `json:"weekly_report"`
	Language         string `json:"language"` // "id" or "en"
	Timezone         string `json:"timezone"`
}

type NLPSettings struct {
	Enabled       bool           `json:"enabled"`
	Confidence    float64        `json:"confidence"` // minimum accepted confidence, 0..1
	CustomPhrases []CustomPhrase `json:"custom_phrases,omitempty"`
}

type CustomPhrase struct {
	Phrase   string   `json:"phrase"`
	Intent   string   `json:"intent"`
	Examples []string `json:"examples,omitempty"`
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		AutoReplyEnabled: false,
		AutoReplyText:    "Terima kasih atas pesannya. Saya akan memproses transaksi keuangan Anda segera.",
		BudgetAlerts:     true,
		DailySummary:     false,
		WeeklyReport:     true,
		Language:         "id",
		Timezone:         "Asia/Jakarta",
	}
}

func DefaultNLPSettings() NLPSettings {
	return NLPSettings{Enabled: true, Confidence: 0.7}
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// QueuedMessage - one outbound entry in a session's message queue
type QueuedMessage struct {
	ID           int64
	SessionID    string
	Content      string
	Kind         string
	Priority     int
	ScheduledFor time.Time
	Status       DeliveryStatus
	CreatedAt    time.Time
}

// SessionError - append-only error log entry on a session
type SessionError struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Error     string
	Context   string
}

type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxCancelled TransactionStatus = "cancelled"
)

type TransactionSource string

const (
	SourceWeb  TransactionSource = "web"
	SourceChat TransactionSource = "chat"
)

// Transaction - one ledger entry. Amount is in minor currency units.
type Transaction struct {
	ID          string
	UserID      string
	Type        TransactionType
	Amount      int64
	Category    string
	Description string
	Date        time.Time
	Source      TransactionSource
	ChatHandle  string
	Tags        []string
	Status      TransactionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
	PeriodCustom  BudgetPeriod = "custom"
)

type BudgetStatus string

const (
	BudgetActive    BudgetStatus = "active"
	BudgetCompleted BudgetStatus = "completed"
	BudgetCancelled BudgetStatus = "cancelled"
)

// Budget - a spending plan over a date window. Invariants:
// TotalBudget == sum of category limits (checked on create/update),
// TotalSpent == sum of category spent (maintained incrementally).
type Budget struct {
	ID          string
	UserID      string
	Name        string
	Period      BudgetPeriod
	StartDate   time.Time
	EndDate     time.Time
	Categories  []BudgetCategory
	TotalBudget int64
	TotalSpent  int64
	Status      BudgetStatus
	Alerts      BudgetNotifications
	Recurring   *RecurringConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type BudgetCategory struct {
	Name          string
	Limit         int64
	Spent         int64
	Color         string
	AlertsEnabled bool
	// AlertThreshold is a percentage of the limit, 0..100
	AlertThreshold float64
}

type BudgetNotifications struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"` // daily, weekly, monthly, never
	Chat      bool   `json:"chat"`
	Email     bool   `json:"email"`
}

type RecurringConfig struct {
	Frequency string `json:"frequency"` // weekly, monthly, yearly
	AutoRenew bool   `json:"auto_renew"`
}

// ActiveAt reports whether the budget participates in delta application at
// the given instant. The window is checked against the instant, not against
// the transaction date.
func (b *Budget) ActiveAt(now time.Time) bool {
	return b.Status == BudgetActive && !now.Before(b.StartDate) && !now.After(b.EndDate)
}

// Category returns the case-normalized category entry, or nil.
func (b *Budget) Category(name string) *BudgetCategory {
	norm := NormalizeCategory(name)
	for i := range b.Categories {
		if NormalizeCategory(b.Categories[i].Name) == norm {
			return &b.Categories[i]
		}
	}
	return nil
}
