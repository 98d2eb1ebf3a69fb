package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/amqp"
	"moneta/internal/cache"
	"moneta/internal/core"
	"moneta/internal/ledger"
	"moneta/internal/ledger/ledgertest"
	"moneta/internal/ledger/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []amqp.EventKind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// brokenBudgets fails every category lookup.
type brokenBudgets struct {
	ledger.BudgetCollection
	fail bool
}

func (b *brokenBudgets) QueryByField(ctx context.Context, f ledger.Field, v any) ([]core.Budget, error) {
	if b.fail {
		return nil, core.ReadFailure("query budgets", errors.New("backend unavailable"))
	}
	return b.BudgetCollection.QueryByField(ctx, f, v)
}

type brokenStore struct {
	*memory.Store
	budgets *brokenBudgets
}

func newBrokenStore() *brokenStore {
	s := memory.New()
	return &brokenStore{Store: s, budgets: &brokenBudgets{BudgetCollection: s.Budgets(), fail: true}}
}

func (s *brokenStore) Budgets() ledger.BudgetCollection { return s.budgets }

func newService(t *testing.T, cfg LedgerServiceConfig) (*LedgerService, *recordingPublisher, context.Context) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := NewLedgerService(memory.New(), pub, cache.NewLRUCache[core.Summary](10, time.Minute), cfg)
	return svc, pub, ledger.WithUser(context.Background(), "alice")
}

func TestLedgerService_RecordExpenseAggregatesIntoBudget(t *testing.T) {
	svc, pub, ctx := newService(t, DefaultLedgerServiceConfig())

	budget, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 20000})
	require.NoError(t, err)
	assert.Zero(t, budget.Spent.Cents)

	tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Groceries", "Food", 4550, 15))
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)

	budgets, err := svc.Budgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, int64(4550), budgets[0].Spent.Cents)
	assert.Equal(t, []amqp.EventKind{amqp.TransactionCreated}, pub.kinds())

	events, err := svc.Aggregations(ctx, core.AggregationCompleted)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, budget.ID, events[0].BudgetID)
}

func TestLedgerService_IncomeDoesNotTouchBudgets(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	_, err := svc.CreateBudget(ctx, "Salary", core.Money{Cents: 1000})
	require.NoError(t, err)

	income := ledgertest.Expense("Paycheck", "Salary", 300000, 1)
	income.Type = core.Income
	_, err = svc.RecordTransaction(ctx, income)
	require.NoError(t, err)

	budgets, err := svc.Budgets(ctx)
	require.NoError(t, err)
	assert.Zero(t, budgets[0].Spent.Cents)

	events, err := svc.Aggregations(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedgerService_NoMatchingBudgetIsSkipped(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	_, err := svc.CreateBudget(ctx, "food", core.Money{Cents: 1000})
	require.NoError(t, err)

	// category match is exact and case-sensitive
	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Lunch", "Food", 1200, 2))
	require.NoError(t, err)

	budgets, err := svc.Budgets(ctx)
	require.NoError(t, err)
	assert.Zero(t, budgets[0].Spent.Cents)

	skipped, err := svc.Aggregations(ctx, core.AggregationSkipped)
	require.NoError(t, err)
	assert.Len(t, skipped, 1)
}

func TestLedgerService_FirstBudgetWins(t *testing.T) {
	store := memory.New(memory.WithClock(steppingClock()))
	svc := NewLedgerService(store, nil, nil, DefaultLedgerServiceConfig())
	ctx := ledger.WithUser(context.Background(), "alice")

	first, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 1000})
	require.NoError(t, err)
	second, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 5000})
	require.NoError(t, err)

	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Bread", "Food", 300, 3))
	require.NoError(t, err)

	got, err := store.Budgets().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Spent.Cents)
	got, err = store.Budgets().Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Spent.Cents)
}

func TestLedgerService_DeleteReconciliation(t *testing.T) {
	tests := []struct {
		name      string
		reconcile bool
		wantSpent int64
	}{
		{name: "reconcile on delete", reconcile: true, wantSpent: 0},
		{name: "keep spent on delete", reconcile: false, wantSpent: 2500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, pub, ctx := newService(t, LedgerServiceConfig{ReconcileOnDelete: tt.reconcile})
			_, err := svc.CreateBudget(ctx, "Fuel", core.Money{Cents: 10000})
			require.NoError(t, err)
			tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Gas", "Fuel", 2500, 9))
			require.NoError(t, err)

			require.NoError(t, svc.DeleteTransaction(ctx, tx.ID))

			budgets, err := svc.Budgets(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSpent, budgets[0].Spent.Cents)
			assert.Equal(t, []amqp.EventKind{amqp.TransactionCreated, amqp.TransactionDeleted}, pub.kinds())

			txs, err := svc.Transactions(ctx)
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}

func TestLedgerService_DeleteExpenseRecordedBeforeBudget(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())

	early, err := svc.RecordTransaction(ctx, ledgertest.Expense("Market", "Food", 3000, 1))
	require.NoError(t, err)
	budget, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 10000})
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Bakery", "Food", 2000, 2))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, early.ID))

	budgets, err := svc.Budgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, budget.ID, budgets[0].ID)
	assert.Equal(t, int64(2000), budgets[0].Spent.Cents, "the early expense never counted, so deleting it takes nothing back")

	skipped, err := svc.Aggregations(ctx, core.AggregationSkipped)
	require.NoError(t, err)
	assert.Len(t, skipped, 2, "the early expense and its reversal")
}

func TestLedgerService_DeleteAfterBudgetRecreated(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())

	old, err := svc.CreateBudget(ctx, "Fuel", core.Money{Cents: 10000})
	require.NoError(t, err)
	tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Gas", "Fuel", 2500, 3))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBudget(ctx, old.ID))

	_, err = svc.CreateBudget(ctx, "Fuel", core.Money{Cents: 10000})
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Diesel", "Fuel", 1000, 4))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, tx.ID))

	budgets, err := svc.Budgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, int64(1000), budgets[0].Spent.Cents, "only the budget the expense went to is reversed")
}

func TestLedgerService_DeleteReversesTheAppliedBudget(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	_, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 10000})
	require.NoError(t, err)
	tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Groceries", "Food", 1800, 5))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, tx.ID))

	reversed, err := svc.Aggregations(ctx, core.AggregationReversed)
	require.NoError(t, err)
	require.Len(t, reversed, 1)
	assert.Equal(t, tx.ID, reversed[0].TransactionID)
	completed, err := svc.Aggregations(ctx, core.AggregationCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, int64(-1800), completed[0].Delta)
	assert.Equal(t, reversed[0].BudgetID, completed[0].BudgetID)
}

func TestLedgerService_DeleteCancelsUnappliedExpense(t *testing.T) {
	store := newBrokenStore()
	svc := NewLedgerService(store, nil, nil, DefaultLedgerServiceConfig())
	ctx := ledger.WithUser(context.Background(), "alice")

	budget, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 1000})
	require.NoError(t, err)
	tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Pizza", "Food", 900, 4))
	require.NoError(t, err)
	store.budgets.fail = false

	require.NoError(t, svc.DeleteTransaction(ctx, tx.ID))

	cancelled, err := svc.Aggregations(ctx, core.AggregationCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, int64(900), cancelled[0].Delta)

	p := NewAggregationProcessor(store, DefaultAggregationProcessorConfig())
	assert.Zero(t, p.ProcessBatch(context.Background()), "nothing is left to apply")
	got, err := store.Budgets().Get(ctx, budget.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Spent.Cents)
}

func TestLedgerService_DeleteUnknownTransaction(t *testing.T) {
	svc, pub, ctx := newService(t, DefaultLedgerServiceConfig())
	err := svc.DeleteTransaction(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, pub.kinds())
}

func TestLedgerService_AggregationFailureKeepsTransaction(t *testing.T) {
	store := newBrokenStore()
	svc := NewLedgerService(store, nil, nil, DefaultLedgerServiceConfig())
	ctx := ledger.WithUser(context.Background(), "alice")

	_, err := svc.CreateBudget(ctx, "Food", core.Money{Cents: 1000})
	require.NoError(t, err)

	tx, err := svc.RecordTransaction(ctx, ledgertest.Expense("Pizza", "Food", 900, 4))
	require.NoError(t, err, "a failed budget update must not fail the write")

	txs, err := svc.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)

	pending, err := svc.Aggregations(ctx, core.AggregationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "backend unavailable")
	assert.Equal(t, int64(900), pending[0].Delta)
}

func TestLedgerService_PublishFailureIsSwallowed(t *testing.T) {
	svc, pub, ctx := newService(t, DefaultLedgerServiceConfig())
	pub.err = amqp.ErrCircuitOpen

	_, err := svc.RecordTransaction(ctx, ledgertest.Expense("Coffee", "Food", 150, 5))
	assert.NoError(t, err)
}

func TestLedgerService_RecordTransactionValidation(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())

	tests := []struct {
		name string
		tx   core.Transaction
	}{
		{name: "blank title", tx: ledgertest.Expense("   ", "Food", 100, 1)},
		{name: "zero amount", tx: ledgertest.Expense("x", "Food", 0, 1)},
		{name: "missing type", tx: core.Transaction{Title: "x", Amount: core.Money{Cents: 1}, Date: core.NewDate(2024, 1, 1)}},
		{name: "missing date", tx: core.Transaction{Title: "x", Amount: core.Money{Cents: 1}, Type: core.Expense}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordTransaction(ctx, tt.tx)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}

	txs, err := svc.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedgerService_RequiresSession(t *testing.T) {
	svc, _, _ := newService(t, DefaultLedgerServiceConfig())
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, ledgertest.Expense("x", "Food", 100, 1))
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = svc.Summary(ctx)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = svc.Budgets(ctx)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestLedgerService_SummaryCacheInvalidation(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())

	_, err := svc.RecordTransaction(ctx, ledgertest.Expense("Rent", "Housing", 80000, 1))
	require.NoError(t, err)
	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), s.TotalExpenses.Cents)

	income := ledgertest.Expense("Salary", "", 200000, 2)
	income.Type = core.Income
	_, err = svc.RecordTransaction(ctx, income)
	require.NoError(t, err)

	s, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), s.TotalIncome.Cents)
	assert.Equal(t, int64(120000), s.Balance.Cents)
	require.Len(t, s.Recent, 2)
	assert.Equal(t, "Salary", s.Recent[0].Title, "recent feed is newest date first")
}

// gatedTransactions holds the first list call after it has read, until
// release is closed.
type gatedTransactions struct {
	ledger.Collection[core.Transaction]
	once    sync.Once
	listed  chan struct{}
	release chan struct{}
}

func (g *gatedTransactions) ListOrdered(ctx context.Context, o ledger.Order) ([]core.Transaction, error) {
	txs, err := g.Collection.ListOrdered(ctx, o)
	g.once.Do(func() {
		close(g.listed)
		<-g.release
	})
	return txs, err
}

type gatedStore struct {
	*memory.Store
	txs *gatedTransactions
}

func (s *gatedStore) Transactions() ledger.Collection[core.Transaction] { return s.txs }

func TestLedgerService_SummaryComputedAcrossWriteIsNotCached(t *testing.T) {
	inner := memory.New()
	store := &gatedStore{Store: inner, txs: &gatedTransactions{
		Collection: inner.Transactions(),
		listed:     make(chan struct{}),
		release:    make(chan struct{}),
	}}
	svc := NewLedgerService(store, nil, cache.NewLRUCache[core.Summary](10, time.Minute), DefaultLedgerServiceConfig())
	ctx := ledger.WithUser(context.Background(), "alice")

	_, err := svc.RecordTransaction(ctx, ledgertest.Expense("Rent", "Housing", 1000, 1))
	require.NoError(t, err)

	stale := make(chan core.Summary, 1)
	go func() {
		s, err := svc.Summary(ctx)
		assert.NoError(t, err)
		stale <- s
	}()

	<-store.txs.listed
	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Power", "Utilities", 500, 2))
	require.NoError(t, err)
	close(store.txs.release)

	assert.Equal(t, int64(1000), (<-stale).TotalExpenses.Cents)

	fresh, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), fresh.TotalExpenses.Cents, "a summary read before the write must not be cached")
}

func TestLedgerService_SubscribeSummary(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := svc.SubscribeSummary(ctx)
	require.NoError(t, err)

	first := <-stream
	assert.Zero(t, first.TotalExpenses.Cents)

	_, err = svc.RecordTransaction(ctx, ledgertest.Expense("Book", "Leisure", 1999, 6))
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-stream:
			if s.TotalExpenses.Cents == 1999 {
				require.Len(t, s.Breakdown, 1)
				assert.Equal(t, "Leisure", s.Breakdown[0].Name)
				return
			}
		case <-deadline:
			t.Fatal("summary stream did not reflect the new expense")
		}
	}
}

func TestLedgerService_UpdateBudgetLimit(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	b, err := svc.CreateBudget(ctx, "Travel", core.Money{Cents: 1000})
	require.NoError(t, err)

	updated, err := svc.UpdateBudgetLimit(ctx, b.ID, core.Money{Cents: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated.Limit.Cents)
	assert.Greater(t, updated.Version, b.Version)

	_, err = svc.UpdateBudgetLimit(ctx, b.ID, core.Money{Cents: -1})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = svc.UpdateBudgetLimit(ctx, "missing", core.Money{Cents: 10})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLedgerService_Categories(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	for _, c := range []string{"Food", "Fuel", "Housing", "Food"} {
		_, err := svc.CreateBudget(ctx, c, core.Money{Cents: 100})
		require.NoError(t, err)
	}

	got, err := svc.Categories(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []string{"Food", "Fuel"}, got)

	got, err = svc.Categories(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Food", "Fuel", "Housing"}, got)
}

func TestLedgerService_DueBills(t *testing.T) {
	svc, _, ctx := newService(t, DefaultLedgerServiceConfig())
	bills := []core.Bill{
		{Name: "Rent", Amount: core.Money{Cents: 80000}, DueDate: core.NewDate(2024, 3, 1)},
		{Name: "Phone", Amount: core.Money{Cents: 2500}, DueDate: core.NewDate(2024, 2, 20)},
		{Name: "Insurance", Amount: core.Money{Cents: 30000}, DueDate: core.NewDate(2024, 4, 1)},
		{Name: "Gym", Amount: core.Money{Cents: 4000}, DueDate: core.NewDate(2024, 2, 1)},
	}
	for _, b := range bills {
		_, err := svc.CreateBill(ctx, b)
		require.NoError(t, err)
	}

	due, err := svc.DueBills(ctx, core.NewDate(2024, 2, 15), 15)
	require.NoError(t, err)
	var names []string
	for _, b := range due {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"Phone", "Rent"}, names)

	_, err = svc.DueBills(ctx, core.NewDate(2024, 2, 15), -1)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = svc.CreateBill(ctx, core.Bill{Name: " ", Amount: core.Money{Cents: 1}, DueDate: core.NewDate(2024, 1, 1)})
	assert.ErrorIs(t, err, core.ErrEmptyName)
}

func TestLedgerService_RetryFailedAggregations(t *testing.T) {
	store := memory.New()
	svc := NewLedgerService(store, nil, nil, DefaultLedgerServiceConfig())
	ctx := ledger.WithUser(context.Background(), "alice")

	id, err := store.Outbox().Enqueue(ctx, core.AggregationEvent{Category: "Food", Delta: 100, Status: core.AggregationProcessing})
	require.NoError(t, err)
	require.NoError(t, store.Outbox().MarkFailed(ctx, id, "boom"))

	n, err := svc.RetryFailedAggregations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := store.Outbox().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.AggregationPending, ev.Status)

	_, err = svc.Aggregations(ctx, core.AggregationStatus("bogus"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

// steppingClock advances one second per call so creation order is stable.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
