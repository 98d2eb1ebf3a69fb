package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"moneta/internal/amqp"
	"moneta/internal/cache"
	"moneta/internal/core"
	"moneta/internal/ledger"
)

// EventPublisher delivers committed ledger changes to other processes.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

type LedgerServiceConfig struct {
	// ReconcileOnDelete reverses a deleted expense's amount on its budget.
	// When false, deleting a transaction leaves budgets untouched.
	ReconcileOnDelete bool
}

func DefaultLedgerServiceConfig() LedgerServiceConfig {
	return LedgerServiceConfig{ReconcileOnDelete: true}
}

// LedgerService orchestrates ledger operations across the store, budget
// aggregation and event publishing. Side effects after a successful write
// never fail the write itself.
type LedgerService struct {
	store      ledger.Store
	aggregator *Aggregator
	publisher  EventPublisher
	summaries  cache.Cache[core.Summary]
	config     LedgerServiceConfig

	// generations counts writes per user; a summary computed across a
	// write is never cached.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewLedgerService wires a service. publisher and summaries may be nil.
func NewLedgerService(store ledger.Store, publisher EventPublisher, summaries cache.Cache[core.Summary], config LedgerServiceConfig) *LedgerService {
	return &LedgerService{
		store:       store,
		aggregator:  NewAggregator(store),
		publisher:   publisher,
		summaries:   summaries,
		config:      config,
		generations: make(map[string]uint64),
	}
}

func (s *LedgerService) Aggregator() *Aggregator { return s.aggregator }

// RecordTransaction validates and stores tx, then aggregates it into budgets.
func (s *LedgerService) RecordTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Title = strings.TrimSpace(tx.Title)
	tx.Category = strings.TrimSpace(tx.Category)
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	id, err := s.store.Transactions().Create(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	if stored, err := s.store.Transactions().Get(ctx, id); err == nil {
		tx = stored
	} else {
		tx.ID = id
	}
	s.invalidate(user)

	if _, err := s.aggregator.RecordCreated(ctx, tx); err != nil {
		slog.ErrorContext(ctx, "Budget aggregation failed, queued for retry",
			"transaction_id", tx.ID, "category", tx.Category, "error", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.TransactionCreated, user, tx))

	return tx, nil
}

// DeleteTransaction removes a transaction and, when configured, reverses its
// effect on the matching budget.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id string) error {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return err
	}
	tx, err := s.store.Transactions().Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Transactions().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.invalidate(user)

	if s.config.ReconcileOnDelete {
		if _, err := s.aggregator.RecordDeleted(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Budget reconciliation failed, queued for retry",
				"transaction_id", tx.ID, "category", tx.Category, "error", err)
		}
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.TransactionDeleted, user, tx))
	return nil
}

// Transactions returns the ledger newest date first.
func (s *LedgerService) Transactions(ctx context.Context) ([]core.Transaction, error) {
	return s.store.Transactions().ListOrdered(ctx, ledger.Order{Field: ledger.FieldDate, Descending: true})
}

func (s *LedgerService) DayGroups(ctx context.Context) ([]core.DayGroup, error) {
	txs, err := s.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	return core.GroupByDay(txs), nil
}

// Summary computes dashboard figures over the whole ledger, newest first.
func (s *LedgerService) Summary(ctx context.Context) (core.Summary, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return core.Summary{}, err
	}
	if s.summaries == nil {
		txs, err := s.Transactions(ctx)
		if err != nil {
			return core.Summary{}, err
		}
		return core.Summarize(txs), nil
	}

	if cached, ok := s.summaries.Get(user); ok {
		return cached, nil
	}
	gen := s.generation(user)
	txs, err := s.Transactions(ctx)
	if err != nil {
		return core.Summary{}, err
	}
	summary := core.Summarize(txs)
	s.storeSummary(user, gen, summary)
	return summary, nil
}

func (s *LedgerService) generation(user string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[user]
}

// storeSummary caches summary unless a write landed since gen was read.
func (s *LedgerService) storeSummary(user string, gen uint64, summary core.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[user] == gen {
		s.summaries.Set(user, summary)
	}
}

// SubscribeTransactions streams full transaction snapshots, newest date first.
func (s *LedgerService) SubscribeTransactions(ctx context.Context) (<-chan []core.Transaction, error) {
	return s.store.Transactions().Subscribe(ctx, ledger.Order{Field: ledger.FieldDate, Descending: true})
}

// SubscribeSummary recomputes the summary from every transaction snapshot.
func (s *LedgerService) SubscribeSummary(ctx context.Context) (<-chan core.Summary, error) {
	snapshots, err := s.SubscribeTransactions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan core.Summary)
	go func() {
		defer close(out)
		for txs := range snapshots {
			select {
			case out <- core.Summarize(txs):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *LedgerService) CreateBudget(ctx context.Context, category string, limit core.Money) (core.Budget, error) {
	b := core.Budget{Category: strings.TrimSpace(category), Limit: limit}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	id, err := s.store.Budgets().Create(ctx, b)
	if err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	return s.store.Budgets().Get(ctx, id)
}

// Budgets returns budgets newest first.
func (s *LedgerService) Budgets(ctx context.Context) ([]core.Budget, error) {
	return s.store.Budgets().ListOrdered(ctx, ledger.Order{Field: ledger.FieldCreateDate, Descending: true})
}

func (s *LedgerService) SubscribeBudgets(ctx context.Context) (<-chan []core.Budget, error) {
	return s.store.Budgets().Subscribe(ctx, ledger.Order{Field: ledger.FieldCreateDate, Descending: true})
}

// UpdateBudgetLimit changes the only user-editable budget field.
func (s *LedgerService) UpdateBudgetLimit(ctx context.Context, id string, limit core.Money) (core.Budget, error) {
	if err := limit.Validate(); err != nil {
		return core.Budget{}, err
	}
	if err := s.store.Budgets().UpdateField(ctx, id, ledger.FieldLimit, limit); err != nil {
		return core.Budget{}, err
	}
	return s.store.Budgets().Get(ctx, id)
}

func (s *LedgerService) DeleteBudget(ctx context.Context, id string) error {
	return s.store.Budgets().Delete(ctx, id)
}

// Categories suggests budget categories containing query.
func (s *LedgerService) Categories(ctx context.Context, query string) ([]string, error) {
	budgets, err := s.store.Budgets().ListOrdered(ctx, ledger.Order{Field: ledger.FieldCategory})
	if err != nil {
		return nil, err
	}
	names := make([]string, len(budgets))
	for i, b := range budgets {
		names[i] = b.Category
	}
	return core.FilterCategories(names, query), nil
}

func (s *LedgerService) CreateBill(ctx context.Context, bill core.Bill) (core.Bill, error) {
	bill.Name = strings.TrimSpace(bill.Name)
	if err := bill.Validate(); err != nil {
		return core.Bill{}, err
	}
	id, err := s.store.Bills().Create(ctx, bill)
	if err != nil {
		return core.Bill{}, fmt.Errorf("save bill: %w", err)
	}
	return s.store.Bills().Get(ctx, id)
}

// Bills returns bills newest first.
func (s *LedgerService) Bills(ctx context.Context) ([]core.Bill, error) {
	return s.store.Bills().ListOrdered(ctx, ledger.Order{Field: ledger.FieldCreateDate, Descending: true})
}

// DueBills returns bills falling due within days of today, soonest first.
func (s *LedgerService) DueBills(ctx context.Context, today core.Date, days int) ([]core.Bill, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: negative horizon", core.ErrValidation)
	}
	bills, err := s.store.Bills().ListOrdered(ctx, ledger.Order{Field: ledger.FieldDueDate})
	if err != nil {
		return nil, err
	}
	var due []core.Bill
	for _, b := range bills {
		if b.DueWithin(today, days) {
			due = append(due, b)
		}
	}
	return due, nil
}

func (s *LedgerService) DeleteBill(ctx context.Context, id string) error {
	return s.store.Bills().Delete(ctx, id)
}

// Aggregations lists the session user's outbox events; empty status means all.
func (s *LedgerService) Aggregations(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", core.ErrValidation, status)
	}
	return s.store.Outbox().List(ctx, status)
}

// RetryFailedAggregations returns failed events to the processor queue.
func (s *LedgerService) RetryFailedAggregations(ctx context.Context) (int, error) {
	n, err := s.store.Outbox().ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Failed aggregations queued for retry", "count", n)
	return n, nil
}

func (s *LedgerService) invalidate(user string) {
	if s.summaries == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[user]++
	s.summaries.Delete(user)
}

func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		level := slog.LevelError
		if errors.Is(err, amqp.ErrCircuitOpen) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Failed to publish ledger event", "kind", ev.Kind, "id", ev.ID, "error", err)
	}
}

// Close releases the store and, if it holds one, the publisher connection.
func (s *LedgerService) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
