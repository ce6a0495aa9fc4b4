package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MreRes/financial-bot/internal/logger"
	"github.com/MreRes/financial-bot/internal/models"
)

type fakeTxStore struct {
	mu  sync.Mutex
	seq int
	txs map[string]models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[string]models.Transaction)}
}

func (f *fakeTxStore) CreateTransaction(_ context.Context, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		f.seq++
		t.ID = fmt.Sprintf("tx-%d", f.seq)
	}
	f.txs[t.ID] = *t
	return nil
}

func (f *fakeTxStore) GetTransaction(_ context.Context, userID, txID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[txID]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, txID)
	}
	return &t, nil
}

func (f *fakeTxStore) UpdateTransaction(_ context.Context, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txs[t.ID]; !ok {
		return fmt.Errorf("%w: transaction %s", models.ErrNotFound, t.ID)
	}
	f.txs[t.ID] = *t
	return nil
}

func (f *fakeTxStore) DeleteTransaction(_ context.Context, userID, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.txs, txID)
	return nil
}

func (f *fakeTxStore) SumCategory(_ context.Context, userID, category string, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, t := range f.txs {
		if t.UserID != userID || t.Type != models.TypeExpense || t.Status != models.TxCompleted {
			continue
		}
		if models.NormalizeCategory(t.Category) != models.NormalizeCategory(category) {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		sum += t.Amount
	}
	return sum, nil
}

type fakeBudgetStore struct {
	mu      sync.Mutex
	budgets map[string]*models.Budget
}

func newFakeBudgetStore(budgets ...*models.Budget) *fakeBudgetStore {
	f := &fakeBudgetStore{budgets: make(map[string]*models.Budget)}
	for _, b := range budgets {
		f.budgets[b.ID] = b
	}
	return f
}

func (f *fakeBudgetStore) ListActiveBudgets(_ context.Context, userID string, now time.Time) ([]models.Budget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Budget
	for _, b := range f.budgets {
		if b.UserID != userID || !b.ActiveAt(now) {
			continue
		}
		cp := *b
		cp.Categories = append([]models.BudgetCategory(nil), b.Categories...)
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeBudgetStore) ApplyDelta(_ context.Context, budgetID, category string, delta int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.budgets[budgetID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: budget %s", models.ErrConsistencyConflict, budgetID)
	}
	cat := b.Category(category)
	if cat == nil {
		return 0, 0, fmt.Errorf("%w: category %s", models.ErrConsistencyConflict, category)
	}
	cat.Spent += delta
	b.TotalSpent += delta
	return cat.Spent, b.TotalSpent, nil
}

func (f *fakeBudgetStore) SetSpent(_ context.Context, budgetID, category string, spent int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.budgets[budgetID]
	if !ok {
		return fmt.Errorf("%w: budget %s", models.ErrNotFound, budgetID)
	}
	cat := b.Category(category)
	if cat == nil {
		return fmt.Errorf("%w: category %s", models.ErrNotFound, category)
	}
	cat.Spent = spent
	var sum int64
	for _, c := range b.Categories {
		sum += c.Spent
	}
	b.TotalSpent = sum
	return nil
}

// snapshot returns the stored budget for invariant checks.
func (f *fakeBudgetStore) snapshot(budgetID string) models.Budget {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := *f.budgets[budgetID]
	b.Categories = append([]models.BudgetCategory(nil), f.budgets[budgetID].Categories...)
	return b
}

func requireConsistent(t *testing.T, b models.Budget) {
	t.Helper()
	var sum int64
	for _, c := range b.Categories {
		sum += c.Spent
	}
	require.Equal(t, sum, b.TotalSpent, "total spent must equal sum of category spent")
}

func testBudget(userID string) *models.Budget {
	now := time.Now()
	return &models.Budget{
		ID:        "budget-1",
		UserID:    userID,
		Name:      "bulanan",
		Period:    models.PeriodMonthly,
		Status:    models.BudgetActive,
		StartDate: now.AddDate(0, 0, -5),
		EndDate:   now.AddDate(0, 0, 25),
		Categories: []models.BudgetCategory{
			{Name: "makan", Limit: 2000000, AlertsEnabled: true},
			{Name: "transportasi", Limit: 1000000, AlertsEnabled: true},
		},
		TotalBudget: 3000000,
	}
}

func newTestLedger(txs *fakeTxStore, budgets *fakeBudgetStore) *LedgerService {
	return NewLedgerService(txs, budgets, logger.NewWithWriter(testWriter{}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateExpenseUpdatesBudget(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	alerts, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "Makan",
	})
	require.NoError(t, err)
	assert.Empty(t, alerts, "2.5 percent of the limit must not alert")

	b := budgets.snapshot("budget-1")
	assert.Equal(t, int64(50000), b.Category("makan").Spent)
	assert.Equal(t, int64(50000), b.TotalSpent)
	requireConsistent(t, b)
}

func TestCreateIncomeLeavesBudgetsAlone(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	_, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeIncome,
		Amount:   5000000,
		Category: "gaji",
	})
	require.NoError(t, err)
	assert.Zero(t, budgets.snapshot("budget-1").TotalSpent)
}

func TestCreatePendingExpenseLeavesBudgetsAlone(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	_, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "makan",
		Status:   models.TxPending,
	})
	require.NoError(t, err)
	assert.Zero(t, budgets.snapshot("budget-1").TotalSpent)
}

func TestAlertAtEightyPercent(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	alerts, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   1600000,
		Category: "makan",
	})
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	var category *models.Alert
	for i := range alerts {
		if alerts[i].Type == models.AlertCategory {
			category = &alerts[i]
		}
	}
	require.NotNil(t, category, "80 percent of the category limit must alert")
	assert.Equal(t, models.SeverityMedium, category.Severity)
}

func TestAlertWhenLimitExceeded(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	alerts, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   2100000,
		Category: "makan",
	})
	require.NoError(t, err)

	var category *models.Alert
	for i := range alerts {
		if alerts[i].Type == models.AlertCategory {
			category = &alerts[i]
		}
	}
	require.NotNil(t, category)
	assert.Equal(t, models.SeverityHigh, category.Severity, "spend past the limit is high severity")
}

func TestZeroLimitCategoryAlertsOnFirstSpend(t *testing.T) {
	b := testBudget("user-1")
	b.Categories = append(b.Categories, models.BudgetCategory{Name: "lainnya", Limit: 0, AlertsEnabled: true})
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(b)
	svc := newTestLedger(txs, budgets)

	alerts, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   1,
		Category: "lainnya",
	})
	require.NoError(t, err)

	var category *models.Alert
	for i := range alerts {
		if alerts[i].Type == models.AlertCategory {
			category = &alerts[i]
		}
	}
	require.NotNil(t, category)
	assert.Equal(t, models.SeverityHigh, category.Severity)
}

func TestUpdateMovesSpendBetweenCategories(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	tx := &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "makan",
	}
	_, err := svc.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)

	tx.Category = "transportasi"
	_, err = svc.UpdateTransaction(context.Background(), tx)
	require.NoError(t, err)

	b := budgets.snapshot("budget-1")
	assert.Zero(t, b.Category("makan").Spent, "the old category must be fully reversed")
	assert.Equal(t, int64(50000), b.Category("transportasi").Spent)
	requireConsistent(t, b)
}

func TestUpdateToPendingReversesSpend(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	tx := &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "makan",
	}
	_, err := svc.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)

	tx.Status = models.TxCancelled
	_, err = svc.UpdateTransaction(context.Background(), tx)
	require.NoError(t, err)

	b := budgets.snapshot("budget-1")
	assert.Zero(t, b.TotalSpent)
	requireConsistent(t, b)
}

func TestDeleteReversesSpend(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	tx := &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   75000,
		Category: "makan",
	}
	_, err := svc.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(context.Background(), "user-1", tx.ID))

	b := budgets.snapshot("budget-1")
	assert.Zero(t, b.TotalSpent)
	requireConsistent(t, b)
}

func TestElapsedBudgetIsNotTouched(t *testing.T) {
	b := testBudget("user-1")
	b.StartDate = time.Now().AddDate(0, -2, 0)
	b.EndDate = time.Now().AddDate(0, -1, 0)
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(b)
	svc := newTestLedger(txs, budgets)

	// dated inside the budget window, but the window itself has elapsed
	_, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "makan",
		Date:     time.Now().AddDate(0, -1, -10),
	})
	require.NoError(t, err)
	assert.Zero(t, budgets.snapshot("budget-1").TotalSpent)
}

func TestUnknownCategoryIsSkipped(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	alerts, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "hiburan",
	})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Zero(t, budgets.snapshot("budget-1").TotalSpent)
}

func TestConcurrentDeltasConverge(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	const workers = 20
	const amount = int64(10000)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateTransaction(context.Background(), &models.Transaction{
				UserID:   "user-1",
				Type:     models.TypeExpense,
				Amount:   amount,
				Category: "makan",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b := budgets.snapshot("budget-1")
	assert.Equal(t, workers*amount, b.Category("makan").Spent)
	requireConsistent(t, b)
}

func TestReconcileRepairsDrift(t *testing.T) {
	txs := newFakeTxStore()
	budgets := newFakeBudgetStore(testBudget("user-1"))
	svc := newTestLedger(txs, budgets)

	_, err := svc.CreateTransaction(context.Background(), &models.Transaction{
		UserID:   "user-1",
		Type:     models.TypeExpense,
		Amount:   50000,
		Category: "makan",
	})
	require.NoError(t, err)

	// simulate drift from a partial write
	budgets.mu.Lock()
	budgets.budgets["budget-1"].Category("makan").Spent = 99999
	budgets.mu.Unlock()

	require.NoError(t, svc.Reconcile(context.Background(), "user-1"))

	b := budgets.snapshot("budget-1")
	assert.Equal(t, int64(50000), b.Category("makan").Spent)
	requireConsistent(t, b)
}
