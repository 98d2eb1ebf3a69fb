package supabase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

const eventsTable = "aggregation_events"

// outbox guards every state change with the row's status and updated_at, so
// two workers can never both move the same event.
type outbox struct {
	store *Store
}

func (o *outbox) Enqueue(ctx context.Context, ev core.AggregationEvent) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := o.store.now().UTC()
	ev.ID = uuid.NewString()
	ev.UserID = user
	if ev.Status == "" {
		ev.Status = core.AggregationPending
	}
	ev.CreatedAt, ev.UpdatedAt = now, now

	if _, _, err := o.store.from(eventsTable).Insert(eventToRow(ev), false, "", "minimal", "").Execute(); err != nil {
		return "", core.WriteFailure("enqueue aggregation", err)
	}
	return ev.ID, nil
}

func (o *outbox) List(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	q := o.store.from(eventsTable).Select("*", "", false).Eq("user_id", user)
	if status != "" {
		q = q.Eq("status", string(status))
	}
	return o.fetch(ctx, "list aggregations", q)
}

func (o *outbox) ForTransaction(ctx context.Context, transactionID string) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, core.ErrMissingIdentifier
	}
	return o.fetch(ctx, "aggregations for transaction", o.store.from(eventsTable).
		Select("*", "", false).
		Eq("user_id", user).
		Eq("transaction_id", transactionID))
}

func (o *outbox) ResetFailed(ctx context.Context) (int, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return 0, err
	}
	data, _, err := o.store.from(eventsTable).
		Update(map[string]any{
			"status":     string(core.AggregationPending),
			"attempts":   0,
			"updated_at": nanos(o.store.now()),
		}, representation, "").
		Eq("user_id", user).
		Eq("status", string(core.AggregationFailed)).
		Execute()
	if err != nil {
		return 0, core.WriteFailure("reset failed aggregations", err)
	}
	rows, err := decode[eventRow](data)
	if err != nil {
		return 0, core.WriteFailure("reset failed aggregations", err)
	}
	return len(rows), nil
}

func (o *outbox) Get(ctx context.Context, id string) (core.AggregationEvent, error) {
	if id == "" {
		return core.AggregationEvent{}, core.ErrMissingIdentifier
	}
	evs, err := o.fetch(ctx, "get aggregation", o.store.from(eventsTable).Select("*", "", false).Eq("id", id))
	if err != nil {
		return core.AggregationEvent{}, err
	}
	if len(evs) == 0 {
		return core.AggregationEvent{}, fmt.Errorf("aggregation event %s: %w", id, core.ErrNotFound)
	}
	return evs[0], nil
}

func (o *outbox) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]core.AggregationEvent, error) {
	now := o.store.now().UTC()
	pending, err := o.fetch(ctx, "claim aggregations", o.store.from(eventsTable).
		Select("*", "", false).
		Eq("status", string(core.AggregationPending)))
	if err != nil {
		return nil, err
	}
	stale, err := o.fetch(ctx, "claim aggregations", o.store.from(eventsTable).
		Select("*", "", false).
		Eq("status", string(core.AggregationProcessing)).
		Lte("updated_at", strconv.FormatInt(nanos(now.Add(-staleAfter)), 10)))
	if err != nil {
		return nil, err
	}

	candidates := append(pending, stale...)
	sortEvents(candidates)

	var claimed []core.AggregationEvent
	for _, ev := range candidates {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		ok, err := o.transition(ctx, ev, map[string]any{"status": string(core.AggregationProcessing)}, now)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		ev.Status = core.AggregationProcessing
		ev.UpdatedAt = now
		claimed = append(claimed, ev)
	}
	return claimed, nil
}

// Apply completes the event before touching the budget and reopens it if the
// increment fails, so a delta is never counted twice.
func (o *outbox) Apply(ctx context.Context, eventID, budgetID string) (core.Budget, error) {
	if eventID == "" || budgetID == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	ev, err := o.Get(ctx, eventID)
	if err != nil {
		return core.Budget{}, err
	}
	if ev.Status != core.AggregationProcessing {
		return core.Budget{}, fmt.Errorf("aggregation event %s is %s: %w", eventID, ev.Status, core.ErrConflict)
	}

	now := o.store.now().UTC()
	ok, err := o.transition(ctx, ev, map[string]any{
		"status":     string(core.AggregationCompleted),
		"budget_id":  budgetID,
		"last_error": "",
	}, now)
	if err != nil {
		return core.Budget{}, err
	}
	if !ok {
		return core.Budget{}, fmt.Errorf("aggregation event %s: %w", eventID, core.ErrConflict)
	}

	budgets := o.store.budgets
	budget, err := budgets.incrementSpent(ctx, ev.UserID, budgetID, ev.Delta)
	if err != nil {
		completed := ev
		completed.Status = core.AggregationCompleted
		completed.UpdatedAt = now
		if _, rerr := o.transition(ctx, completed, map[string]any{
			"status":    string(core.AggregationProcessing),
			"budget_id": "",
		}, o.store.now().UTC()); rerr != nil {
			slog.ErrorContext(ctx, "Failed to reopen aggregation event", "event_id", eventID, "error", rerr)
		}
		return core.Budget{}, err
	}
	budgets.hub.Notify(ev.UserID)
	return budget, nil
}

func (o *outbox) MarkSkipped(ctx context.Context, id string) error {
	return o.update(ctx, id, processing, func(ev core.AggregationEvent) map[string]any {
		return map[string]any{"status": string(core.AggregationSkipped), "last_error": ""}
	})
}

func (o *outbox) MarkRetry(ctx context.Context, id string, cause string) error {
	return o.update(ctx, id, processing, func(ev core.AggregationEvent) map[string]any {
		return map[string]any{
			"status":     string(core.AggregationPending),
			"attempts":   ev.Attempts + 1,
			"last_error": cause,
		}
	})
}

func (o *outbox) MarkFailed(ctx context.Context, id string, cause string) error {
	return o.update(ctx, id, processing, func(ev core.AggregationEvent) map[string]any {
		return map[string]any{
			"status":     string(core.AggregationFailed),
			"attempts":   ev.Attempts + 1,
			"last_error": cause,
		}
	})
}

func (o *outbox) Cancel(ctx context.Context, id string) error {
	return o.update(ctx, id, []core.AggregationStatus{core.AggregationPending, core.AggregationFailed},
		func(core.AggregationEvent) map[string]any {
			return map[string]any{"status": string(core.AggregationCancelled)}
		})
}

func (o *outbox) MarkReversed(ctx context.Context, id string) error {
	return o.update(ctx, id, []core.AggregationStatus{core.AggregationCompleted},
		func(core.AggregationEvent) map[string]any {
			return map[string]any{"status": string(core.AggregationReversed)}
		})
}

func (o *outbox) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := strconv.FormatInt(nanos(o.store.now().Add(-olderThan)), 10)
	filters := []func(*postgrest.FilterBuilder) *postgrest.FilterBuilder{
		func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
			return q.In("status", []string{
				string(core.AggregationSkipped), string(core.AggregationCancelled), string(core.AggregationReversed),
			})
		},
		// completed origin events stay until their expense is reversed
		func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
			return q.Eq("status", string(core.AggregationCompleted)).Eq("transaction_id", "")
		},
		func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
			return q.Eq("status", string(core.AggregationCompleted)).Lt("delta_cents", "0")
		},
	}
	total := 0
	for _, filter := range filters {
		q := o.store.from(eventsTable).Delete(representation, "").Lt("updated_at", cutoff)
		data, _, err := filter(q).Execute()
		if err != nil {
			return total, core.WriteFailure("cleanup aggregations", err)
		}
		rows, err := decode[eventRow](data)
		if err != nil {
			return total, core.WriteFailure("cleanup aggregations", err)
		}
		total += len(rows)
	}
	return total, nil
}

func (o *outbox) Stats(ctx context.Context) (map[core.AggregationStatus]int, error) {
	evs, err := o.fetch(ctx, "aggregation stats", o.store.from(eventsTable).Select("*", "", false))
	if err != nil {
		return nil, err
	}
	stats := make(map[core.AggregationStatus]int)
	for _, ev := range evs {
		stats[ev.Status]++
	}
	return stats, nil
}

var processing = []core.AggregationStatus{core.AggregationProcessing}

// update rewrites an event with values derived from its current state,
// retrying when another writer moved it first. The event must be in one of
// from.
func (o *outbox) update(ctx context.Context, id string, from []core.AggregationStatus, values func(core.AggregationEvent) map[string]any) error {
	for attempt := 1; attempt <= o.store.maxCASRetries; attempt++ {
		ev, err := o.Get(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, ev.Status) {
			return fmt.Errorf("aggregation event %s is %s: %w", id, ev.Status, core.ErrConflict)
		}
		ok, err := o.transition(ctx, ev, values(ev), o.store.now().UTC())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("aggregation event %s: %w", id, core.ErrConflict)
}

// transition writes values if ev still has the status and updated_at it was
// read with. It reports whether the row was changed.
func (o *outbox) transition(ctx context.Context, ev core.AggregationEvent, values map[string]any, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	values["updated_at"] = nanos(now)
	data, _, err := o.store.from(eventsTable).
		Update(values, representation, "").
		Eq("id", ev.ID).
		Eq("status", string(ev.Status)).
		Eq("updated_at", strconv.FormatInt(nanos(ev.UpdatedAt), 10)).
		Execute()
	if err != nil {
		return false, core.WriteFailure("update aggregation", err)
	}
	rows, err := decode[eventRow](data)
	if err != nil {
		return false, core.WriteFailure("update aggregation", err)
	}
	return len(rows) == 1, nil
}

func (o *outbox) fetch(ctx context.Context, op string, q *postgrest.FilterBuilder) ([]core.AggregationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := q.Execute()
	if err != nil {
		return nil, core.ReadFailure(op, err)
	}
	rows, err := decode[eventRow](data)
	if err != nil {
		return nil, core.ReadFailure(op, err)
	}
	evs := make([]core.AggregationEvent, len(rows))
	for i, r := range rows {
		evs[i] = eventFromRow(r)
	}
	sortEvents(evs)
	return evs, nil
}

func sortEvents(evs []core.AggregationEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].CreatedAt.Before(evs[j].CreatedAt)
		}
		return evs[i].ID < evs[j].ID
	})
}
