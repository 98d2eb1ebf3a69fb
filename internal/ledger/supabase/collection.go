package supabase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

const representation = "representation"

type collection[T any, R any] struct {
	store  *Store
	schema ledger.Schema[T]
	codec  codec[T, R]
	hub    *ledger.Hub[T]
}

func newCollection[T any, R any](s *Store, schema ledger.Schema[T], c codec[T, R]) *collection[T, R] {
	return &collection[T, R]{store: s, schema: schema, codec: c, hub: ledger.NewHub[T](schema.Collection)}
}

func (c *collection[T, R]) table() string { return c.schema.Collection }

func (c *collection[T, R]) Create(ctx context.Context, item T) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.codec.prepare(&item, id, nanos(c.store.now()))

	_, _, err = c.store.from(c.table()).
		Insert(c.codec.toRow(user, item), false, "", "minimal", "").
		Execute()
	if err != nil {
		return "", core.WriteFailure("create "+c.table(), err)
	}

	slog.InfoContext(ctx, "Record created", "collection", c.table(), "id", id, "user_id", user)
	c.hub.Notify(user)
	return id, nil
}

func (c *collection[T, R]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return zero, err
	}
	if id == "" {
		return zero, core.ErrMissingIdentifier
	}
	items, err := c.selectWhere(ctx, "get "+c.table(), user, ledger.Order{}, "id", id)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, fmt.Errorf("%s %s: %w", c.table(), id, core.ErrNotFound)
	}
	return items[0], nil
}

func (c *collection[T, R]) QueryByField(ctx context.Context, field ledger.Field, value any) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	col, v, err := c.schema.Filter(field, value)
	if err != nil {
		return nil, err
	}
	return c.selectWhere(ctx, "query "+c.table(), user, ledger.Order{}, col.Name, fmt.Sprint(v))
}

func (c *collection[T, R]) ListOrdered(ctx context.Context, order ledger.Order) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return c.selectWhere(ctx, "list "+c.table(), user, order, "", "")
}

// selectWhere reads the user's rows, optionally filtered by column = value,
// sorted by order with ties broken on id.
func (c *collection[T, R]) selectWhere(ctx context.Context, op, user string, order ledger.Order, column, value string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, order, err := c.schema.OrderBy(order)
	if err != nil {
		return nil, err
	}
	less, err := c.schema.Less(order)
	if err != nil {
		return nil, err
	}

	q := c.store.from(c.table()).Select("*", "", false).Eq("user_id", user)
	if column != "" {
		q = q.Eq(column, value)
	}
	data, _, err := q.Order(col.Name, &postgrest.OrderOpts{Ascending: !order.Descending}).Execute()
	if err != nil {
		return nil, core.ReadFailure(op, err)
	}
	rows, err := decode[R](data)
	if err != nil {
		return nil, core.ReadFailure(op, err)
	}

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		item, err := c.codec.fromRow(r)
		if err != nil {
			return nil, core.ReadFailure(op, err)
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (c *collection[T, R]) UpdateField(ctx context.Context, id string, field ledger.Field, value any) error {
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
	if err := ctx.Err(); err != nil {
		return err
	}

	data, _, err := c.store.from(c.table()).
		Update(map[string]any{col.Name: v}, representation, "").
		Eq("user_id", user).
		Eq("id", id).
		Execute()
	if err != nil {
		return core.WriteFailure("update "+c.table(), err)
	}
	rows, err := decode[R](data)
	if err != nil {
		return core.WriteFailure("update "+c.table(), err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", c.table(), id, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "Record updated", "collection", c.table(), "id", id, "field", field)
	c.hub.Notify(user)
	return nil
}

func (c *collection[T, R]) Delete(ctx context.Context, id string) error {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return core.ErrMissingIdentifier
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, _, err := c.store.from(c.table()).
		Delete(representation, "").
		Eq("user_id", user).
		Eq("id", id).
		Execute()
	if err != nil {
		return core.WriteFailure("delete "+c.table(), err)
	}
	rows, err := decode[R](data)
	if err != nil {
		return core.WriteFailure("delete "+c.table(), err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", c.table(), id, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "Record deleted", "collection", c.table(), "id", id)
	c.hub.Notify(user)
	return nil
}

// Subscribe only observes writes made through this Store.
func (c *collection[T, R]) Subscribe(ctx context.Context, order ledger.Order) (<-chan []T, error) {
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

type budgetCollection struct {
	*collection[core.Budget, budgetRow]
}

// UpdateField bumps the version alongside the field, retrying on conflict.
func (b *budgetCollection) UpdateField(ctx context.Context, id string, field ledger.Field, value any) error {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return core.ErrMissingIdentifier
	}
	col, v, err := b.schema.Update(field, value)
	if err != nil {
		return err
	}
	_, err = b.compareAndSwap(ctx, user, id, func(cur core.Budget) map[string]any {
		return map[string]any{col.Name: v}
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Record updated", "collection", b.table(), "id", id, "field", field)
	b.hub.Notify(user)
	return nil
}

// IncrementSpent retries a version-guarded write so concurrent increments
// are never lost. It gives up with core.ErrConflict after the retry bound.
func (b *budgetCollection) IncrementSpent(ctx context.Context, id string, delta int64) (core.Budget, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	if id == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	budget, err := b.incrementSpent(ctx, user, id, delta)
	if err != nil {
		return core.Budget{}, err
	}
	b.hub.Notify(user)
	return budget, nil
}

func (b *budgetCollection) incrementSpent(ctx context.Context, user, id string, delta int64) (core.Budget, error) {
	budget, err := b.compareAndSwap(ctx, user, id, func(cur core.Budget) map[string]any {
		return map[string]any{"spent_cents": core.ApplyDelta(cur.Spent, delta).Cents}
	})
	if err != nil {
		return core.Budget{}, err
	}
	slog.InfoContext(ctx, "Budget spent updated",
		"budget_id", id, "delta_cents", delta, "spent_cents", budget.Spent.Cents)
	return budget, nil
}

// compareAndSwap applies change to the current row guarded by its version.
func (b *budgetCollection) compareAndSwap(ctx context.Context, user, id string, change func(core.Budget) map[string]any) (core.Budget, error) {
	for attempt := 1; attempt <= b.store.maxCASRetries; attempt++ {
		cur, err := b.Get(ledger.WithUser(ctx, user), id)
		if err != nil {
			return core.Budget{}, err
		}
		values := change(cur)
		values["version"] = cur.Version + 1

		data, _, err := b.store.from(b.table()).
			Update(values, representation, "").
			Eq("user_id", user).
			Eq("id", id).
			Eq("version", strconv.FormatInt(cur.Version, 10)).
			Execute()
		if err != nil {
			return core.Budget{}, core.WriteFailure("update budgets", err)
		}
		rows, err := decode[budgetRow](data)
		if err != nil {
			return core.Budget{}, core.WriteFailure("update budgets", err)
		}
		if len(rows) == 1 {
			return budgetCodec.fromRow(rows[0])
		}
		slog.DebugContext(ctx, "Budget version moved, retrying", "budget_id", id, "attempt", attempt)
	}
	return core.Budget{}, fmt.Errorf("budgets %s: %w", id, core.ErrConflict)
}
