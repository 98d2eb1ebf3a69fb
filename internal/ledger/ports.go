// Package ledger defines the per-user Ledger Store that every storage backend
// provides, together with the schema, session and snapshot helpers they share.
package ledger

import (
	"context"
	"time"

	"moneta/internal/core"
)

type (
	// Collection is a user-scoped record set. Every method fails with
	// core.ErrUnauthenticated when ctx carries no user.
	Collection[T any] interface {
		// Create stores item and returns its new identifier.
		Create(ctx context.Context, item T) (string, error)
		Get(ctx context.Context, id string) (T, error)
		// QueryByField is an exact, case-sensitive match in the collection's
		// default order.
		QueryByField(ctx context.Context, field Field, value any) ([]T, error)
		ListOrdered(ctx context.Context, order Order) ([]T, error)
		UpdateField(ctx context.Context, id string, field Field, value any) error
		Delete(ctx context.Context, id string) error
		// Subscribe emits the full ordered result set now and after every
		// committed change, until ctx is done. Slow readers only see the
		// latest snapshot.
		Subscribe(ctx context.Context, order Order) (<-chan []T, error)
	}

	BudgetCollection interface {
		Collection[core.Budget]
		// IncrementSpent atomically adds delta to spent, clamped at zero.
		IncrementSpent(ctx context.Context, id string, delta int64) (core.Budget, error)
	}

	// Outbox stores aggregation events. Enqueue, List, ForTransaction and
	// ResetFailed are user-scoped; the rest serve the background processor
	// across users.
	Outbox interface {
		Enqueue(ctx context.Context, ev core.AggregationEvent) (string, error)
		List(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error)
		// ForTransaction returns every event recorded for a transaction,
		// oldest first.
		ForTransaction(ctx context.Context, transactionID string) ([]core.AggregationEvent, error)
		ResetFailed(ctx context.Context) (int, error)

		Get(ctx context.Context, id string) (core.AggregationEvent, error)
		// Claim moves up to limit pending events, and processing events not
		// touched for staleAfter, to processing and returns them.
		Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]core.AggregationEvent, error)
		// Apply adds the event delta to the budget and completes the event in
		// one step. It returns core.ErrConflict if the event is not processing.
		Apply(ctx context.Context, eventID, budgetID string) (core.Budget, error)
		// MarkSkipped, MarkRetry and MarkFailed only move processing events
		// and return core.ErrConflict otherwise.
		MarkSkipped(ctx context.Context, id string) error
		// MarkRetry records a failed attempt and returns the event to pending.
		MarkRetry(ctx context.Context, id string, cause string) error
		MarkFailed(ctx context.Context, id string, cause string) error
		// Cancel drops a pending or failed event; core.ErrConflict otherwise.
		Cancel(ctx context.Context, id string) error
		// MarkReversed flags a completed event as taken back;
		// core.ErrConflict otherwise.
		MarkReversed(ctx context.Context, id string) error
		// Cleanup deletes terminal events older than olderThan, keeping
		// completed origin events (see core.AggregationEvent.Retained).
		Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
		Stats(ctx context.Context) (map[core.AggregationStatus]int, error)
	}

	// Store is a complete ledger backend.
	Store interface {
		Transactions() Collection[core.Transaction]
		Budgets() BudgetCollection
		Bills() Collection[core.Bill]
		Outbox() Outbox
		Ping(ctx context.Context) error
		Close() error
	}
)
