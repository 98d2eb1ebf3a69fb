package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

const eventColumns = "id, user_id, transaction_id, category, delta_cents, status, attempts, last_error, budget_id, created_at, updated_at"

type outbox struct {
	repo *Repository
}

func scanEvent(row rowScanner) (core.AggregationEvent, error) {
	var (
		ev               core.AggregationEvent
		status           string
		created, updated int64
	)
	err := row.Scan(&ev.ID, &ev.UserID, &ev.TransactionID, &ev.Category, &ev.Delta,
		&status, &ev.Attempts, &ev.LastError, &ev.BudgetID, &created, &updated)
	ev.Status = core.AggregationStatus(status)
	ev.CreatedAt = time.Unix(0, created).UTC()
	ev.UpdatedAt = time.Unix(0, updated).UTC()
	return ev, err
}

func (o *outbox) Enqueue(ctx context.Context, ev core.AggregationEvent) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	now := o.repo.now().UTC().UnixNano()
	ev.ID = uuid.NewString()
	if ev.Status == "" {
		ev.Status = core.AggregationPending
	}
	_, err = o.repo.exec(ctx, "INSERT INTO aggregation_events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, 0, '', '', ?, ?)",
		ev.ID, user, ev.TransactionID, ev.Category, ev.Delta, string(ev.Status), now, now)
	if err != nil {
		return "", core.WriteFailure("enqueue aggregation event", err)
	}
	slog.InfoContext(ctx, "Aggregation event enqueued",
		"event_id", ev.ID, "category", ev.Category, "delta_cents", ev.Delta, "status", ev.Status)
	return ev.ID, nil
}

func (o *outbox) List(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + eventColumns + " FROM aggregation_events WHERE user_id = ?"
	args := []any{user}
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	return o.query(ctx, o.repo.db, q+" ORDER BY created_at, id", args...)
}

func (o *outbox) ForTransaction(ctx context.Context, transactionID string) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, core.ErrMissingIdentifier
	}
	return o.query(ctx, o.repo.db,
		"SELECT "+eventColumns+" FROM aggregation_events WHERE user_id = ? AND transaction_id = ? ORDER BY created_at, id",
		user, transactionID)
}

func (o *outbox) ResetFailed(ctx context.Context) (int, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return 0, err
	}
	res, err := o.repo.exec(ctx,
		"UPDATE aggregation_events SET status = ?, attempts = 0, updated_at = ? WHERE user_id = ? AND status = ?",
		string(core.AggregationPending), o.repo.now().UTC().UnixNano(), user, string(core.AggregationFailed))
	if err != nil {
		return 0, core.WriteFailure("reset failed aggregation events", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (o *outbox) Get(ctx context.Context, id string) (core.AggregationEvent, error) {
	if id == "" {
		return core.AggregationEvent{}, core.ErrMissingIdentifier
	}
	return o.get(ctx, o.repo.db, id)
}

func (o *outbox) get(ctx context.Context, q querier, id string) (core.AggregationEvent, error) {
	ev, err := scanEvent(q.QueryRowContext(ctx,
		o.repo.dialect.Rebind("SELECT "+eventColumns+" FROM aggregation_events WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("aggregation event %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return ev, core.ReadFailure("get aggregation event", err)
	}
	return ev, nil
}

func (o *outbox) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]core.AggregationEvent, error) {
	now := o.repo.now().UTC()
	staleBefore := now.Add(-staleAfter).UnixNano()

	tx, err := o.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.WriteFailure("begin claim", err)
	}
	defer tx.Rollback()

	candidates, err := o.query(ctx, tx,
		"SELECT "+eventColumns+" FROM aggregation_events"+
			" WHERE status = ? OR (status = ? AND updated_at <= ?)"+
			" ORDER BY created_at, id LIMIT ?",
		string(core.AggregationPending), string(core.AggregationProcessing), staleBefore, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]core.AggregationEvent, 0, len(candidates))
	for _, ev := range candidates {
		// Guarded on the status it was read with, so concurrent workers
		// cannot both claim it.
		res, err := tx.ExecContext(ctx, o.repo.dialect.Rebind(
			"UPDATE aggregation_events SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND updated_at = ?"),
			string(core.AggregationProcessing), now.UnixNano(), ev.ID, string(ev.Status), ev.UpdatedAt.UnixNano())
		if err != nil {
			return nil, core.WriteFailure("claim aggregation event", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		ev.Status = core.AggregationProcessing
		ev.UpdatedAt = now
		claimed = append(claimed, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.WriteFailure("commit claim", err)
	}
	return claimed, nil
}

func (o *outbox) Apply(ctx context.Context, eventID, budgetID string) (core.Budget, error) {
	if eventID == "" || budgetID == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	tx, err := o.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Budget{}, core.WriteFailure("begin apply", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, o.repo.dialect.Rebind(
		"UPDATE aggregation_events SET status = ?, budget_id = ?, last_error = '', updated_at = ? WHERE id = ? AND status = ?"),
		string(core.AggregationCompleted), budgetID, o.repo.now().UTC().UnixNano(), eventID, string(core.AggregationProcessing))
	if err != nil {
		return core.Budget{}, core.WriteFailure("complete aggregation event", err)
	}
	ev, err := o.get(ctx, tx, eventID)
	if err != nil {
		return core.Budget{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Budget{}, fmt.Errorf("aggregation event %s is %s: %w", eventID, ev.Status, core.ErrConflict)
	}

	budget, err := incrementSpent(ctx, tx, o.repo.dialect, ev.UserID, budgetID, ev.Delta)
	if err != nil {
		return core.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Budget{}, core.WriteFailure("commit apply", err)
	}

	slog.InfoContext(ctx, "Aggregation event applied",
		"event_id", eventID, "budget_id", budgetID, "delta_cents", ev.Delta, "spent_cents", budget.Spent.Cents)
	o.repo.budgets.hub.Notify(ev.UserID)
	return budget, nil
}

func (o *outbox) MarkSkipped(ctx context.Context, id string) error {
	return o.transition(ctx, id, core.AggregationSkipped, "", 0, core.AggregationProcessing)
}

func (o *outbox) MarkRetry(ctx context.Context, id string, cause string) error {
	return o.transition(ctx, id, core.AggregationPending, cause, 1, core.AggregationProcessing)
}

func (o *outbox) MarkFailed(ctx context.Context, id string, cause string) error {
	if err := o.transition(ctx, id, core.AggregationFailed, cause, 1, core.AggregationProcessing); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Aggregation event marked as failed", "event_id", id, "error", cause)
	return nil
}

func (o *outbox) Cancel(ctx context.Context, id string) error {
	return o.transition(ctx, id, core.AggregationCancelled, nil, 0, core.AggregationPending, core.AggregationFailed)
}

func (o *outbox) MarkReversed(ctx context.Context, id string) error {
	return o.transition(ctx, id, core.AggregationReversed, nil, 0, core.AggregationCompleted)
}

// transition moves an event to status if it is currently in one of from; a
// nil cause keeps last_error. A missing event is ErrNotFound, one in another
// status ErrConflict.
func (o *outbox) transition(ctx context.Context, id string, status core.AggregationStatus, cause any, attempts int, from ...core.AggregationStatus) error {
	if id == "" {
		return core.ErrMissingIdentifier
	}
	args := []any{string(status), cause, attempts, o.repo.now().UTC().UnixNano(), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := o.repo.exec(ctx,
		"UPDATE aggregation_events SET status = ?, last_error = COALESCE(?, last_error), attempts = attempts + ?, updated_at = ?"+
			" WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...)
	if err != nil {
		return core.WriteFailure("update aggregation event", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.WriteFailure("update aggregation event", err)
	} else if n == 1 {
		return nil
	}
	ev, err := o.get(ctx, o.repo.db, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("aggregation event %s is %s: %w", id, ev.Status, core.ErrConflict)
}

func (o *outbox) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := o.repo.now().UTC().Add(-olderThan).UnixNano()
	// Completed origin events stay: they record which budget an expense
	// went to until the expense is deleted and reversed.
	res, err := o.repo.exec(ctx,
		"DELETE FROM aggregation_events WHERE updated_at < ? AND (status IN (?, ?, ?)"+
			" OR (status = ? AND (transaction_id = '' OR delta_cents < 0)))",
		cutoff,
		string(core.AggregationSkipped), string(core.AggregationCancelled), string(core.AggregationReversed),
		string(core.AggregationCompleted))
	if err != nil {
		return 0, core.WriteFailure("cleanup aggregation events", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (o *outbox) Stats(ctx context.Context) (map[core.AggregationStatus]int, error) {
	rows, err := o.repo.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM aggregation_events GROUP BY status")
	if err != nil {
		return nil, core.ReadFailure("aggregation stats", err)
	}
	defer rows.Close()

	stats := make(map[core.AggregationStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, core.ReadFailure("aggregation stats", err)
		}
		stats[core.AggregationStatus(status)] = n
	}
	return stats, rows.Err()
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (o *outbox) query(ctx context.Context, q rowsQuerier, stmt string, args ...any) ([]core.AggregationEvent, error) {
	rows, err := q.QueryContext(ctx, o.repo.dialect.Rebind(stmt), args...)
	if err != nil {
		return nil, core.ReadFailure("query aggregation events", err)
	}
	defer rows.Close()

	out := make([]core.AggregationEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, core.ReadFailure("scan aggregation event", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
