package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

type outbox struct {
	store  *Store
	events map[string]core.AggregationEvent
}

func (o *outbox) Enqueue(ctx context.Context, ev core.AggregationEvent) (string, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	now := o.store.now().UTC()
	ev.ID = uuid.NewString()
	ev.UserID = user
	if ev.Status == "" {
		ev.Status = core.AggregationPending
	}
	ev.CreatedAt, ev.UpdatedAt = now, now

	o.store.mu.Lock()
	o.events[ev.ID] = ev
	o.store.mu.Unlock()
	return ev.ID, nil
}

func (o *outbox) List(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	o.store.mu.RLock()
	var out []core.AggregationEvent
	for _, ev := range o.events {
		if ev.UserID == user && (status == "" || ev.Status == status) {
			out = append(out, ev)
		}
	}
	o.store.mu.RUnlock()
	sortEvents(out)
	return out, nil
}

func (o *outbox) ForTransaction(ctx context.Context, transactionID string) ([]core.AggregationEvent, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, core.ErrMissingIdentifier
	}
	o.store.mu.RLock()
	var out []core.AggregationEvent
	for _, ev := range o.events {
		if ev.UserID == user && ev.TransactionID == transactionID {
			out = append(out, ev)
		}
	}
	o.store.mu.RUnlock()
	sortEvents(out)
	return out, nil
}

func (o *outbox) ResetFailed(ctx context.Context) (int, error) {
	user, err := ledger.UserFromContext(ctx)
	if err != nil {
		return 0, err
	}
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	n := 0
	for id, ev := range o.events {
		if ev.UserID == user && ev.Status == core.AggregationFailed {
			ev.Status = core.AggregationPending
			ev.Attempts = 0
			ev.UpdatedAt = o.store.now().UTC()
			o.events[id] = ev
			n++
		}
	}
	return n, nil
}

func (o *outbox) Get(_ context.Context, id string) (core.AggregationEvent, error) {
	if id == "" {
		return core.AggregationEvent{}, core.ErrMissingIdentifier
	}
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()
	ev, ok := o.events[id]
	if !ok {
		return core.AggregationEvent{}, fmt.Errorf("aggregation event %s: %w", id, core.ErrNotFound)
	}
	return ev, nil
}

func (o *outbox) Claim(_ context.Context, limit int, staleAfter time.Duration) ([]core.AggregationEvent, error) {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	now := o.store.now().UTC()

	var candidates []core.AggregationEvent
	for _, ev := range o.events {
		stale := ev.Status == core.AggregationProcessing && now.Sub(ev.UpdatedAt) >= staleAfter
		if ev.Status == core.AggregationPending || stale {
			candidates = append(candidates, ev)
		}
	}
	sortEvents(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		candidates[i].Status = core.AggregationProcessing
		candidates[i].UpdatedAt = now
		o.events[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (o *outbox) Apply(_ context.Context, eventID, budgetID string) (core.Budget, error) {
	if eventID == "" || budgetID == "" {
		return core.Budget{}, core.ErrMissingIdentifier
	}
	o.store.mu.Lock()
	ev, ok := o.events[eventID]
	if !ok {
		o.store.mu.Unlock()
		return core.Budget{}, fmt.Errorf("aggregation event %s: %w", eventID, core.ErrNotFound)
	}
	if ev.Status != core.AggregationProcessing {
		o.store.mu.Unlock()
		return core.Budget{}, fmt.Errorf("aggregation event %s is %s: %w", eventID, ev.Status, core.ErrConflict)
	}
	budget, err := o.store.budgets.incrementLocked(ev.UserID, budgetID, ev.Delta)
	if err != nil {
		o.store.mu.Unlock()
		return core.Budget{}, err
	}
	ev.Status = core.AggregationCompleted
	ev.BudgetID = budgetID
	ev.LastError = ""
	ev.UpdatedAt = o.store.now().UTC()
	o.events[eventID] = ev
	o.store.mu.Unlock()

	o.store.budgets.hub.Notify(ev.UserID)
	return budget, nil
}

func (o *outbox) MarkSkipped(_ context.Context, id string) error {
	return o.update(id, processing, func(ev *core.AggregationEvent) {
		ev.Status = core.AggregationSkipped
		ev.LastError = ""
	})
}

func (o *outbox) MarkRetry(_ context.Context, id string, cause string) error {
	return o.update(id, processing, func(ev *core.AggregationEvent) {
		ev.Status = core.AggregationPending
		ev.Attempts++
		ev.LastError = cause
	})
}

func (o *outbox) MarkFailed(_ context.Context, id string, cause string) error {
	return o.update(id, processing, func(ev *core.AggregationEvent) {
		ev.Status = core.AggregationFailed
		ev.Attempts++
		ev.LastError = cause
	})
}

func (o *outbox) Cancel(_ context.Context, id string) error {
	return o.update(id, []core.AggregationStatus{core.AggregationPending, core.AggregationFailed}, func(ev *core.AggregationEvent) {
		ev.Status = core.AggregationCancelled
	})
}

func (o *outbox) MarkReversed(_ context.Context, id string) error {
	return o.update(id, []core.AggregationStatus{core.AggregationCompleted}, func(ev *core.AggregationEvent) {
		ev.Status = core.AggregationReversed
	})
}

func (o *outbox) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	cutoff := o.store.now().UTC().Add(-olderThan)
	n := 0
	for id, ev := range o.events {
		if ev.Status.Terminal() && !ev.Retained() && ev.UpdatedAt.Before(cutoff) {
			delete(o.events, id)
			n++
		}
	}
	return n, nil
}

func (o *outbox) Stats(context.Context) (map[core.AggregationStatus]int, error) {
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()
	stats := make(map[core.AggregationStatus]int)
	for _, ev := range o.events {
		stats[ev.Status]++
	}
	return stats, nil
}

var processing = []core.AggregationStatus{core.AggregationProcessing}

// update applies fn if the event is currently in one of from.
func (o *outbox) update(id string, from []core.AggregationStatus, fn func(*core.AggregationEvent)) error {
	if id == "" {
		return core.ErrMissingIdentifier
	}
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	ev, ok := o.events[id]
	if !ok {
		return fmt.Errorf("aggregation event %s: %w", id, core.ErrNotFound)
	}
	if !slices.Contains(from, ev.Status) {
		return fmt.Errorf("aggregation event %s is %s: %w", id, ev.Status, core.ErrConflict)
	}
	fn(&ev)
	ev.UpdatedAt = o.store.now().UTC()
	o.events[id] = ev
	return nil
}

func sortEvents(evs []core.AggregationEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].CreatedAt.Before(evs[j].CreatedAt)
		}
		return evs[i].ID < evs[j].ID
	})
}
