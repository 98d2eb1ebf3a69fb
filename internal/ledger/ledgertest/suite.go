// Package ledgertest holds the behavioral checks every ledger backend must pass.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.Store

// Run exercises the full ledger contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Unauthenticated", func(t *testing.T) { testUnauthenticated(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("UserIsolation", func(t *testing.T) { testUserIsolation(t, newStore(t)) })
	t.Run("Budgets", func(t *testing.T) { testBudgets(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	t.Run("Bills", func(t *testing.T) { testBills(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("OutboxTransitions", func(t *testing.T) { testOutboxTransitions(t, newStore(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, newStore(t)) })
}

func userCtx(user string) context.Context {
	return ledger.WithUser(context.Background(), user)
}

// Expense builds a valid expense transaction.
func Expense(title, category string, cents int64, day int) core.Transaction {
	return core.Transaction{
		Title:    title,
		Amount:   core.Money{Cents: cents},
		Category: category,
		Date:     core.NewDate(2024, 1, day),
		Type:     core.Expense,
	}
}

func testUnauthenticated(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.Transactions().Create(ctx, Expense("x", "Food", 100, 1))
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = s.Transactions().QueryByField(ctx, ledger.FieldCategory, "Food")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = s.Budgets().ListOrdered(ctx, ledger.Order{})
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.ErrorIs(t, s.Budgets().UpdateField(ctx, "id", ledger.FieldLimit, int64(5)), core.ErrUnauthenticated)
	assert.ErrorIs(t, s.Bills().Delete(ctx, "id"), core.ErrUnauthenticated)
	_, err = s.Bills().Subscribe(ctx, ledger.Order{})
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = s.Budgets().IncrementSpent(ctx, "id", 1)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = s.Outbox().Enqueue(ctx, core.AggregationEvent{Category: "Food", Delta: 1})
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func testTransactions(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	txs := s.Transactions()

	ids := make([]string, 0, 3)
	for i, tx := range []core.Transaction{
		Expense("bread", "Food", 300, 1),
		Expense("bus", "Travel", 250, 3),
		{Title: "salary", Amount: core.Money{Cents: 100000}, Date: core.NewDate(2024, 1, 2), Type: core.Income},
	} {
		id, err := txs.Create(ctx, tx)
		require.NoError(t, err, "create %d", i)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}

	got, err := txs.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "bread", got.Title)
	assert.Equal(t, int64(300), got.Amount.Cents)
	assert.Equal(t, "2024-01-01", got.Date.String())
	assert.False(t, got.CreatedAt.IsZero())

	list, err := txs.ListOrdered(ctx, ledger.Order{Field: ledger.FieldDate, Descending: true})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"bus", "salary", "bread"}, titles(list))

	asc, err := txs.ListOrdered(ctx, ledger.Order{Field: ledger.FieldDate})
	require.NoError(t, err)
	assert.Equal(t, []string{"bread", "salary", "bus"}, titles(asc))

	food, err := txs.QueryByField(ctx, ledger.FieldCategory, "Food")
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, ids[0], food[0].ID)

	none, err := txs.QueryByField(ctx, ledger.FieldCategory, "food")
	require.NoError(t, err)
	assert.Empty(t, none, "matching is case-sensitive")

	incomes, err := txs.QueryByField(ctx, ledger.FieldType, core.Income)
	require.NoError(t, err)
	assert.Len(t, incomes, 1)

	_, err = txs.QueryByField(ctx, "color", "red")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, txs.UpdateField(ctx, ids[0], ledger.FieldCategory, "Other"), core.ErrValidation)

	assert.ErrorIs(t, txs.Delete(ctx, ""), core.ErrMissingIdentifier)
	assert.ErrorIs(t, txs.Delete(ctx, "00000000-0000-0000-0000-000000000000"), core.ErrNotFound)
	require.NoError(t, txs.Delete(ctx, ids[1]))
	_, err = txs.Get(ctx, ids[1])
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testUserIsolation(t *testing.T, s ledger.Store) {
	alice, bob := userCtx("alice"), userCtx("bob")
	id, err := s.Transactions().Create(alice, Expense("coffee", "Food", 150, 1))
	require.NoError(t, err)

	list, err := s.Transactions().ListOrdered(bob, ledger.Order{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Transactions().Get(bob, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Transactions().Delete(bob, id), core.ErrNotFound)
}

func testBudgets(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	budgets := s.Budgets()

	first, err := budgets.Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 10000}, Spent: core.Money{Cents: 999}})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := budgets.Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 5000}})
	require.NoError(t, err)

	b, err := budgets.Get(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, b.Spent.Cents, "spent starts at zero")

	matches, err := budgets.QueryByField(ctx, ledger.FieldCategory, "Food")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, first, matches[0].ID, "oldest budget comes first")

	newest, err := budgets.ListOrdered(ctx, ledger.Order{Field: ledger.FieldCreateDate, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, second, newest[0].ID)

	updated, err := budgets.IncrementSpent(ctx, first, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.Spent.Cents)
	updated, err = budgets.IncrementSpent(ctx, first, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated.Spent.Cents)

	updated, err = budgets.IncrementSpent(ctx, first, -8000)
	require.NoError(t, err)
	assert.Zero(t, updated.Spent.Cents, "spent never goes negative")

	require.NoError(t, budgets.UpdateField(ctx, first, ledger.FieldLimit, core.Money{Cents: 20000}))
	b, err = budgets.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), b.Limit.Cents)
	assert.Greater(t, b.Version, updated.Version)

	assert.ErrorIs(t, budgets.UpdateField(ctx, first, ledger.FieldLimit, int64(0)), core.ErrValidation)
	assert.ErrorIs(t, budgets.UpdateField(ctx, first, ledger.FieldSpent, int64(10)), core.ErrValidation)
	assert.ErrorIs(t, budgets.UpdateField(ctx, first, ledger.FieldCategory, "Rent"), core.ErrValidation)
	assert.ErrorIs(t, budgets.UpdateField(ctx, "", ledger.FieldLimit, int64(10)), core.ErrMissingIdentifier)
	assert.ErrorIs(t, budgets.UpdateField(ctx, "00000000-0000-0000-0000-000000000000", ledger.FieldLimit, int64(10)), core.ErrNotFound)
	_, err = budgets.IncrementSpent(ctx, "00000000-0000-0000-0000-000000000000", 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testConcurrentIncrements(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	id, err := s.Budgets().Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 100000}})
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Budgets().IncrementSpent(ctx, id, 100); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := s.Budgets().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*100), b.Spent.Cents, "no increment may be lost")
}

func testBills(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	bills := s.Bills()
	rent, err := bills.Create(ctx, core.Bill{Name: "Rent", Amount: core.Money{Cents: 80000}, DueDate: core.NewDate(2024, 2, 1)})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = bills.Create(ctx, core.Bill{Name: "Power", Amount: core.Money{Cents: 6000}, DueDate: core.NewDate(2024, 1, 20)})
	require.NoError(t, err)

	list, err := bills.ListOrdered(ctx, ledger.Order{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Power", list[0].Name, "default order is newest first")

	byDue, err := bills.ListOrdered(ctx, ledger.Order{Field: ledger.FieldDueDate})
	require.NoError(t, err)
	assert.Equal(t, "Power", byDue[0].Name)
	assert.Equal(t, "2024-02-01", byDue[1].DueDate.String())

	assert.ErrorIs(t, bills.UpdateField(ctx, rent, ledger.FieldName, "Mortgage"), core.ErrValidation)
	require.NoError(t, bills.Delete(ctx, rent))
	list, err = bills.ListOrdered(ctx, ledger.Order{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testOutbox(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	ob := s.Outbox()
	budgetID, err := s.Budgets().Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 10000}})
	require.NoError(t, err)

	id, err := ob.Enqueue(ctx, core.AggregationEvent{TransactionID: "tx-1", Category: "Food", Delta: 3000})
	require.NoError(t, err)
	ev, err := ob.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.AggregationPending, ev.Status)
	assert.Equal(t, "alice", ev.UserID)

	_, err = ob.Apply(context.Background(), id, budgetID)
	assert.ErrorIs(t, err, core.ErrConflict, "pending events must be claimed first")

	claimed, err := ob.Claim(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, core.AggregationProcessing, claimed[0].Status)

	again, err := ob.Claim(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, again, "processing events are not re-claimed before they go stale")

	b, err := ob.Apply(context.Background(), id, budgetID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), b.Spent.Cents)
	_, err = ob.Apply(context.Background(), id, budgetID)
	assert.ErrorIs(t, err, core.ErrConflict, "events apply once")

	ev, err = ob.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.AggregationCompleted, ev.Status)
	assert.Equal(t, budgetID, ev.BudgetID)

	failing, err := ob.Enqueue(ctx, core.AggregationEvent{Category: "Food", Delta: 10, Status: core.AggregationProcessing})
	require.NoError(t, err)
	require.NoError(t, ob.MarkRetry(context.Background(), failing, "boom"))
	ev, err = ob.Get(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, core.AggregationPending, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, "boom", ev.LastError)

	assert.ErrorIs(t, ob.MarkFailed(context.Background(), failing, "boom again"), core.ErrConflict,
		"only processing events record attempts")
	reclaimed, err := ob.Claim(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.NoError(t, ob.MarkFailed(context.Background(), failing, "boom again"))
	failed, err := ob.List(ctx, core.AggregationFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)

	others, err := ob.List(userCtx("bob"), "")
	require.NoError(t, err)
	assert.Empty(t, others)

	n, err := ob.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	skip, err := ob.Enqueue(ctx, core.AggregationEvent{Category: "Nope", Delta: 10, Status: core.AggregationProcessing})
	require.NoError(t, err)
	require.NoError(t, ob.MarkSkipped(context.Background(), skip))

	stats, err := ob.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[core.AggregationCompleted])
	assert.Equal(t, 1, stats[core.AggregationPending])
	assert.Equal(t, 1, stats[core.AggregationSkipped])

	removed, err := ob.Cleanup(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "the completed origin event is kept")
	_, err = ob.Get(context.Background(), id)
	require.NoError(t, err)

	_, err = ob.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testOutboxTransitions(t *testing.T, s ledger.Store) {
	ctx := userCtx("alice")
	bg := context.Background()
	ob := s.Outbox()
	budgetID, err := s.Budgets().Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 10000}})
	require.NoError(t, err)

	origin, err := ob.Enqueue(ctx, core.AggregationEvent{TransactionID: "tx-7", Category: "Food", Delta: 400, Status: core.AggregationProcessing})
	require.NoError(t, err)
	_, err = ob.Apply(bg, origin, budgetID)
	require.NoError(t, err)

	// a late failure report must not reopen an applied event
	assert.ErrorIs(t, ob.MarkRetry(bg, origin, "late"), core.ErrConflict)
	assert.ErrorIs(t, ob.MarkSkipped(bg, origin), core.ErrConflict)
	assert.ErrorIs(t, ob.Cancel(bg, origin), core.ErrConflict)
	ev, err := ob.Get(bg, origin)
	require.NoError(t, err)
	assert.Equal(t, core.AggregationCompleted, ev.Status)
	assert.Zero(t, ev.Attempts)
	assert.ErrorIs(t, ob.MarkRetry(bg, "00000000-0000-0000-0000-000000000000", "x"), core.ErrNotFound)

	reversal, err := ob.Enqueue(ctx, core.AggregationEvent{TransactionID: "tx-7", Category: "Food", Delta: -400})
	require.NoError(t, err)
	_, err = ob.Enqueue(ctx, core.AggregationEvent{TransactionID: "tx-8", Category: "Food", Delta: 100})
	require.NoError(t, err)

	events, err := ob.ForTransaction(ctx, "tx-7")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{origin, reversal}, []string{events[0].ID, events[1].ID})
	others, err := ob.ForTransaction(userCtx("bob"), "tx-7")
	require.NoError(t, err)
	assert.Empty(t, others)
	_, err = ob.ForTransaction(bg, "tx-7")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	require.NoError(t, ob.MarkReversed(bg, origin))
	assert.ErrorIs(t, ob.MarkReversed(bg, origin), core.ErrConflict)
	require.NoError(t, ob.Cancel(bg, reversal))
	assert.ErrorIs(t, ob.Cancel(bg, reversal), core.ErrConflict)

	removed, err := ob.Cleanup(bg, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "reversed and cancelled events are cleaned up")
	pending, err := ob.List(ctx, core.AggregationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-8", pending[0].TransactionID)
}

func testSubscribe(t *testing.T, s ledger.Store) {
	base, cancel := context.WithCancel(userCtx("alice"))
	defer cancel()

	stream, err := s.Transactions().Subscribe(base, ledger.Order{})
	require.NoError(t, err)
	initial := receive(t, stream)
	assert.Empty(t, initial)

	_, err = s.Transactions().Create(base, Expense("one", "Food", 100, 1))
	require.NoError(t, err)
	snap := waitFor(t, stream, func(txs []core.Transaction) bool { return len(txs) == 1 })
	assert.Equal(t, "one", snap[0].Title)

	id, err := s.Transactions().Create(base, Expense("two", "Food", 100, 2))
	require.NoError(t, err)
	snap = waitFor(t, stream, func(txs []core.Transaction) bool { return len(txs) == 2 })
	assert.Equal(t, []string{"two", "one"}, titles(snap), "each snapshot is complete and ordered")

	require.NoError(t, s.Transactions().Delete(base, id))
	snap = waitFor(t, stream, func(txs []core.Transaction) bool { return len(txs) == 1 })
	assert.Equal(t, "one", snap[0].Title)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func waitFor(t *testing.T, ch <-chan []core.Transaction, ok func([]core.Transaction) bool) []core.Transaction {
	t.Helper()
	for i := 0; i < 10; i++ {
		snap := receive(t, ch)
		if ok(snap) {
			return snap
		}
	}
	t.Fatal("expected snapshot never arrived")
	return nil
}

func titles(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Title
	}
	return out
}
