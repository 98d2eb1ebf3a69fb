// Package memory is an in-process ledger backend for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	transactions *collection[core.Transaction]
	budgets      *budgets
	bills        *collection[core.Bill]
	outbox       *outbox
}

var _ ledger.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.transactions = newCollection(s, ledger.TransactionSchema, func(t *core.Transaction, id string, now time.Time) {
		t.ID = id
		t.CreatedAt = now
	})
	s.budgets = &budgets{collection: newCollection(s, ledger.BudgetSchema, func(b *core.Budget, id string, now time.Time) {
		b.ID = id
		b.CreateDate = now
		b.Spent = core.Money{}
		b.Version = 1
	})}
	s.bills = newCollection(s, ledger.BillSchema, func(b *core.Bill, id string, now time.Time) {
		b.ID = id
		b.CreateDate = now
	})
	s.outbox = &outbox{store: s, events: make(map[string]core.AggregationEvent)}
	return s
}

func (s *Store) Transactions() ledger.Collection[core.Transaction] { return s.transactions }
func (s *Store) Budgets() ledger.BudgetCollection                 { return s.budgets }
func (s *Store) Bills() ledger.Collection[core.Bill]               { return s.bills }
func (s *Store) Outbox() ledger.Outbox                             { return s.outbox }
func (s *Store) Ping(context.Context) error                        { return nil }
func (s *Store) Close() error                                      { return nil }

type collection[T any] struct {
	store   *Store
	schema  ledger.Schema[T]
	items   map[string]map[string]T // user -> id -> record
	prepare func(item *T, id string, now time.Time)
	hub     *ledger.Hub[T]
}

func newCollection[T any](s *Store, schema ledger.Schema[T], prepare func(*T, string, time.Time)) *collection[T] {
	return &collection[T]{
		store:   s,
		schema:  schema,
		items:   make(map[string]map[string]T),
		prepare: prepare,
		hub:     ledger.NewHub[T](schema.Collection),
	}
}

func (c *collection[T]) Create(ctx context.Context, item T) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.prepare(&item, id, c.store.now().UTC())

	c.store.mu.Lock()
	if c.items[user] == nil {
		c.items[user] = make(map[string]T)
	}
	c.items[user][id] = item
	c.store.mu.Unlock()

	c.hub.Notify(user)
	return id, nil
}

func (c *collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return zero, err
	}
	if id == "" {
		return zero, core.ErrMissingIdentifier
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	item, ok := c.items[user][id]
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", c.schema.Collection, id, core.ErrNotFound)
	}
	return item, nil
}

func (c *collection[T]) QueryByField(ctx context.Context, field ledger.Field, value any) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	col, want, err := c.schema.Filter(field, value)
	if err != nil {
		return nil, err
	}
	less, err := c.schema.Less(ledger.Order{})
	if err != nil {
		return nil, err
	}

	c.store.mu.RLock()
	var out []T
	for _, item := range c.items[user] {
		if col.Get(item) == want {
			out = append(out, item)
		}
	}
	c.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (c *collection[T]) ListOrdered(ctx context.Context, order ledger.Order) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	less, err := c.schema.Less(order)
	if err != nil {
		return nil, err
	}

	c.store.mu.RLock()
	out := make([]T, 0, len(c.items[user]))
	for _, item := range c.items[user] {
		out = append(out, item)
	}
	c.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (c *collection[T]) UpdateField(ctx context.Context, id string, field ledger.Field, value any) error {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return core.ErrMissingIdentifier
	}
	col, v, err := c.schema.Update(field, value)
	if err != nil {
		return err
	}

	c.store.mu.Lock()
	item, ok := c.items[user][id]
	if !ok {
		c.store.mu.Unlock()
		return fmt.Errorf("%s %s: %w", c.schema.Collection, id, core.ErrNotFound)
	}
	col.Set(&item, v)
	if b, ok := any(&item).(*core.Budget); ok && c.schema.Versioned {
		b.Version++
	}
	c.items[user][id] = item
	c.store.mu.Unlock()

	c.hub.Notify(user)
	return nil
}

func (c *collection[T]) Delete(ctx context.Context, id string) error {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return core.ErrMissingIdentifier
	}
	c.store.mu.Lock()
	if _, ok := c.items[user][id]; !ok {
		c.store.mu.Unlock()
		return fmt.Errorf("%s %s: %w", c.schema.Collection, id, core.ErrNotFound)
	}
	delete(c.items[user], id)
	c.store.mu.Unlock()

	c.hub.Notify(user)
	return nil
}

func (c *collection[T]) Subscribe(ctx context.Context, order ledger.Order) (<-chan []T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := c.schema.OrderBy(order); err != nil {
		return nil, err
	}
	return c.hub.Subscribe(ctx, user, func(ctx context.Context) ([]T, error) {
		return c.ListOrdered(ctx, order)
	}), nil
}

type budgets struct {
	*collection[core.Budget]
}

func (b *budgets) IncrementSpent(ctx context.Context, id string, delta int64) (core.Budget, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	if id == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	b.store.mu.Lock()
	budget, err := b.incrementLocked(user, id, delta)
	b.store.mu.Unlock()
	if err != nil {
		return core.Budget{}, err
	}
	b.hub.Notify(user)
	return budget, nil
}

// incrementLocked requires the store lock.
func (b *budgets) incrementLocked(user, id string, delta int64) (core.Budget, error) {
	budget, ok := b.items[user][id]
	if !ok {
		return core.Budget{}, fmt.Errorf("budgets %s: %w", id, core.ErrNotFound)
	}
	budget.Spent = core.ApplyDelta(budget.Spent, delta)
	budget.Version++
	b.items[user][id] = budget
	return budget, nil
}
