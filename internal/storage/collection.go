package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

type collection[T any] struct {
	repo    *Repository
	schema  ledger.Schema[T]
	mapper  mapper[T]
	prepare func(item *T, id string, now time.Time)
	hub     *ledger.Hub[T]
}

func newCollection[T any](r *Repository, schema ledger.Schema[T], m mapper[T], prepare func(*T, string, time.Time)) *collection[T] {
	return &collection[T]{
		repo:    r,
		schema:  schema,
		mapper:  m,
		prepare: prepare,
		hub:     ledger.NewHub[T](schema.Collection),
	}
}

func (c *collection[T]) table() string { return c.schema.Collection }

func (c *collection[T]) Create(ctx context.Context, item T) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.prepare(&item, id, c.repo.now().UTC())

	cols := append([]string{"user_id"}, c.mapper.columns...)
	args := append([]any{user}, c.mapper.values(item)...)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.table(), strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := c.repo.exec(ctx, q, args...); err != nil {
		return "", core.WriteFailure("create "+c.table(), err)
	}

	slog.InfoContext(ctx, "Record created", "collection", c.table(), "id", id, "user_id", user)
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
	q := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? AND id = ?", c.mapper.selectList(), c.table())
	item, err := c.mapper.scan(c.repo.db.QueryRowContext(ctx, c.repo.dialect.Rebind(q), user, id))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", c.table(), id, core.ErrNotFound)
	}
	if err != nil {
		return zero, core.ReadFailure("get "+c.table(), err)
	}
	return item, nil
}

func (c *collection[T]) QueryByField(ctx context.Context, field ledger.Field, value any) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	col, v, err := c.schema.Filter(field, value)
	if err != nil {
		return nil, err
	}
	orderBy, err := c.orderClause(ledger.Order{})
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? AND %s = ? ORDER BY %s",
		c.mapper.selectList(), c.table(), col.Name, orderBy)
	return c.query(ctx, "query "+c.table(), q, user, v)
}

func (c *collection[T]) ListOrdered(ctx context.Context, order ledger.Order) ([]T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	orderBy, err := c.orderClause(order)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? ORDER BY %s",
		c.mapper.selectList(), c.table(), orderBy)
	return c.query(ctx, "list "+c.table(), q, user)
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
	set := col.Name + " = ?"
	if c.schema.Versioned {
		set += ", version = version + 1"
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE user_id = ? AND id = ?", c.table(), set)
	res, err := c.repo.exec(ctx, q, v, user, id)
	if err != nil {
		return core.WriteFailure("update "+c.table(), err)
	}
	if err := expectRow(res, c.table(), id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Record updated", "collection", c.table(), "id", id, "field", field)
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
	q := fmt.Sprintf("DELETE FROM %s WHERE user_id = ? AND id = ?", c.table())
	res, err := c.repo.exec(ctx, q, user, id)
	if err != nil {
		return core.WriteFailure("delete "+c.table(), err)
	}
	if err := expectRow(res, c.table(), id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Record deleted", "collection", c.table(), "id", id)
	c.hub.Notify(user)
	return nil
}

func (c *collection[T]) Subscribe(ctx context.Context, order ledger.Order) (<-chan []T, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.orderClause(order); err != nil {
		return nil, err
	}
	return c.hub.Subscribe(ctx, user, func(ctx context.Context) ([]T, error) {
		return c.ListOrdered(ctx, order)
	}), nil
}

func (c *collection[T]) orderClause(order ledger.Order) (string, error) {
	col, order, err := c.schema.OrderBy(order)
	if err != nil {
		return "", err
	}
	dir := "ASC"
	if order.Descending {
		dir = "DESC"
	}
	return col.Name + " " + dir + ", id " + dir, nil
}

func (c *collection[T]) query(ctx context.Context, op, q string, args ...any) ([]T, error) {
	rows, err := c.repo.db.QueryContext(ctx, c.repo.dialect.Rebind(q), args...)
	if err != nil {
		return nil, core.ReadFailure(op, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := c.mapper.scan(rows)
		if err != nil {
			return nil, core.ReadFailure(op, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ReadFailure(op, err)
	}
	return out, nil
}

type budgetCollection struct {
	*collection[core.Budget]
}

// IncrementSpent is a single UPDATE, so concurrent writers never lose an increment.
func (b *budgetCollection) IncrementSpent(ctx context.Context, id string, delta int64) (core.Budget, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	if id == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	budget, err := incrementSpent(ctx, b.repo.db, b.repo.dialect, user, id, delta)
	if err != nil {
		return core.Budget{}, err
	}

	slog.InfoContext(ctx, "Budget spent updated",
		"budget_id", id, "delta_cents", delta, "spent_cents", budget.Spent.Cents)
	b.hub.Notify(user)
	return budget, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func incrementSpent(ctx context.Context, q querier, d Dialect, user, id string, delta int64) (core.Budget, error) {
	stmt := fmt.Sprintf(
		"UPDATE budgets SET spent_cents = %s, version = version + 1 WHERE user_id = ? AND id = ? RETURNING %s",
		d.NonNegative("spent_cents + ?"), budgetMapper.selectList())
	budget, err := budgetMapper.scan(q.QueryRowContext(ctx, d.Rebind(stmt), delta, user, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budgets %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, core.WriteFailure("increment budget spent", err)
	}
	return budget, nil
}

func expectRow(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return core.WriteFailure(table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, core.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
