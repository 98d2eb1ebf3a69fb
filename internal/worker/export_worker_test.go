package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/grpcserver"
	"moneta/internal/ledger"
	"moneta/internal/ledger/memory"
	"moneta/internal/services"
	"moneta/internal/sheets"
)

type exported struct {
	userID string
	tx     core.Transaction
	action sheets.Action
}

type fakeExporter struct {
	mu   sync.Mutex
	rows []exported
	err  error
}

func (f *fakeExporter) Export(_ context.Context, userID string, tx core.Transaction, action sheets.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, exported{userID: userID, tx: tx, action: action})
	return nil
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func groceries() core.Transaction {
	return core.Transaction{
		ID:       "tx-1",
		Title:    "Groceries",
		Amount:   core.Money{Cents: 4250},
		Category: "Food",
		Date:     core.NewDate(2024, 3, 9),
		Type:     core.Expense,
	}
}

func TestExportWorker_HandleLedgerEvent(t *testing.T) {
	tests := []struct {
		kind   amqp.EventKind
		action sheets.Action
	}{
		{amqp.TransactionCreated, sheets.ActionCreated},
		{amqp.TransactionDeleted, sheets.ActionDeleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			exp := &fakeExporter{}
			w := NewExportWorker(exp)

			err := w.HandleLedgerEvent(context.Background(), amqp.NewTransactionEvent(tt.kind, "alice", groceries()))
			require.NoError(t, err)

			require.Len(t, exp.rows, 1)
			got := exp.rows[0]
			assert.Equal(t, "alice", got.userID)
			assert.Equal(t, tt.action, got.action)
			assert.Equal(t, "Groceries", got.tx.Title)
			assert.Equal(t, int64(4250), got.tx.Amount.Cents)
			assert.Equal(t, "2024-03-09", got.tx.Date.String())
		})
	}
}

func TestExportWorker_ExportErrorRequeues(t *testing.T) {
	w := NewExportWorker(&fakeExporter{err: errors.New("quota exceeded")})
	err := w.HandleLedgerEvent(context.Background(), amqp.NewTransactionEvent(amqp.TransactionCreated, "alice", groceries()))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestExportWorker_DropsUnusableEvents(t *testing.T) {
	exp := &fakeExporter{}
	w := NewExportWorker(exp)

	unknown := amqp.NewTransactionEvent("budget.created", "alice", groceries())
	assert.NoError(t, w.HandleLedgerEvent(context.Background(), unknown))

	badDate := amqp.NewTransactionEvent(amqp.TransactionCreated, "alice", groceries())
	badDate.Transaction.Date = "09/03/2024"
	assert.NoError(t, w.HandleLedgerEvent(context.Background(), badDate))

	assert.Zero(t, exp.count())
}

func TestExportWorker_NilExporter(t *testing.T) {
	w := NewExportWorker(nil)
	assert.NoError(t, w.HandleLedgerEvent(context.Background(), amqp.NewTransactionEvent(amqp.TransactionCreated, "alice", groceries())))
}

// replayConsumer hands its events to the handler, then waits for shutdown.
type replayConsumer struct {
	events []*amqp.LedgerEvent
}

func (c *replayConsumer) ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error {
	for _, ev := range c.events {
		if err := handler(ctx, ev); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_RunsUntilCancelled(t *testing.T) {
	store := memory.New()
	userCtx := ledger.WithUser(context.Background(), "alice")
	budgetID, err := store.Budgets().Create(userCtx, core.Budget{Category: "Food", Limit: core.Money{Cents: 10000}})
	require.NoError(t, err)
	_, err = store.Outbox().Enqueue(userCtx, core.AggregationEvent{Category: "Food", Delta: 900})
	require.NoError(t, err)

	procCfg := services.DefaultAggregationProcessorConfig()
	procCfg.PollInterval = 10 * time.Millisecond

	exp := &fakeExporter{}
	r := NewRunner(RunnerConfig{
		Consumer:      &replayConsumer{events: []*amqp.LedgerEvent{amqp.NewTransactionEvent(amqp.TransactionCreated, "alice", groceries())}},
		Exporter:      NewExportWorker(exp),
		Processor:     services.NewAggregationProcessor(store, procCfg),
		Health:        grpcserver.New("127.0.0.1:0"),
		Store:         store,
		ProbeInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		b, err := store.Budgets().Get(userCtx, budgetID)
		return err == nil && b.Spent.Cents == 900 && exp.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_ConsumerFailureStopsRunner(t *testing.T) {
	r := NewRunner(RunnerConfig{
		Consumer: &replayConsumer{events: []*amqp.LedgerEvent{amqp.NewTransactionEvent(amqp.TransactionCreated, "alice", groceries())}},
		Exporter: NewExportWorker(&fakeExporter{err: errors.New("sheet gone")}),
	})
	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "sheet gone")
}
