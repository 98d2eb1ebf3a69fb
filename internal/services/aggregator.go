package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

// Outcome reports what an aggregation did.
type Outcome struct {
	EventID string
	Budget  *core.Budget // nil when no budget matched
}

// Skipped reports whether no budget matched the event category.
func (o Outcome) Skipped() bool { return o.Budget == nil }

// Aggregator keeps budget spent totals in step with expense transactions.
// Every mutation becomes an outbox event carrying a signed delta, so a failed
// update stays visible and can be retried.
type Aggregator struct {
	store ledger.Store
}

func NewAggregator(store ledger.Store) *Aggregator {
	return &Aggregator{store: store}
}

// OnExpenseRecorded applies amount to the first budget whose category equals
// category exactly. No matching budget is a no-op.
func (a *Aggregator) OnExpenseRecorded(ctx context.Context, category string, amount core.Money) (Outcome, error) {
	if err := amount.Validate(); err != nil {
		return Outcome{}, err
	}
	return a.record(ctx, core.AggregationEvent{Category: category, Delta: amount.Cents})
}

// RecordCreated aggregates a newly stored expense. Income is ignored.
func (a *Aggregator) RecordCreated(ctx context.Context, tx core.Transaction) (Outcome, error) {
	if !tx.IsExpense() {
		return Outcome{}, nil
	}
	return a.record(ctx, core.AggregationEvent{TransactionID: tx.ID, Category: tx.Category, Delta: tx.Amount.Cents})
}

// RecordDeleted reverses a deleted expense. Income is ignored. The reversal
// only takes back what the expense's own event applied; see Reconcile.
func (a *Aggregator) RecordDeleted(ctx context.Context, tx core.Transaction) (Outcome, error) {
	if !tx.IsExpense() {
		return Outcome{}, nil
	}
	return a.record(ctx, core.AggregationEvent{TransactionID: tx.ID, Category: tx.Category, Delta: -tx.Amount.Cents})
}

// record writes the event already claimed, so the background processor leaves
// it alone unless this attempt fails or stalls.
func (a *Aggregator) record(ctx context.Context, ev core.AggregationEvent) (Outcome, error) {
	ev.Status = core.AggregationProcessing
	id, err := a.store.Outbox().Enqueue(ctx, ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue aggregation: %w", err)
	}
	ev.ID = id

	out, err := a.Reconcile(ctx, ev)
	if err != nil {
		if markErr := a.store.Outbox().MarkRetry(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to record aggregation failure", "event_id", id, "error", markErr)
		}
		return Outcome{EventID: id}, err
	}
	return out, nil
}

// Reconcile applies a claimed event to the first budget in its category.
// Reversals go to the budget their expense was applied to instead.
// ctx must carry the event's user.
func (a *Aggregator) Reconcile(ctx context.Context, ev core.AggregationEvent) (Outcome, error) {
	if ev.Reversal() {
		return a.reverse(ctx, ev)
	}
	out := Outcome{EventID: ev.ID}

	budgets, err := a.store.Budgets().QueryByField(ctx, ledger.FieldCategory, ev.Category)
	if err != nil {
		return out, fmt.Errorf("find budget for %q: %w", ev.Category, err)
	}
	if len(budgets) == 0 {
		if err := a.store.Outbox().MarkSkipped(ctx, ev.ID); err != nil {
			return out, fmt.Errorf("mark skipped: %w", err)
		}
		slog.DebugContext(ctx, "No budget for category", "category", ev.Category, "event_id", ev.ID)
		return out, nil
	}
	if len(budgets) > 1 {
		slog.WarnContext(ctx, "Several budgets share a category, using the oldest",
			"category", ev.Category, "count", len(budgets), "budget_id", budgets[0].ID)
	}

	budget, err := a.store.Outbox().Apply(ctx, ev.ID, budgets[0].ID)
	if err != nil {
		return out, fmt.Errorf("apply to budget %s: %w", budgets[0].ID, err)
	}
	out.Budget = &budget

	slog.InfoContext(ctx, "Budget aggregated",
		"budget_id", budget.ID,
		"category", budget.Category,
		"delta", core.Money{Cents: ev.Delta}.String(),
		"spent", budget.Spent.String(),
		"over_limit", budget.OverLimit())
	return out, nil
}

// reverse settles the reversal ev against its expense's origin event:
//
//	completed          apply -delta to the origin's budget, flag it reversed
//	pending or failed  cancel the origin, nothing was applied
//	processing         retry later, the outcome is not known yet
//	anything else      nothing was applied, skip
func (a *Aggregator) reverse(ctx context.Context, ev core.AggregationEvent) (Outcome, error) {
	out := Outcome{EventID: ev.ID}
	outbox := a.store.Outbox()

	origin, found, err := a.origin(ctx, ev.TransactionID)
	if err != nil {
		return out, err
	}
	if !found {
		return out, a.skip(ctx, ev, "no applied event for transaction")
	}

	switch origin.Status {
	case core.AggregationCompleted:
		budget, err := outbox.Apply(ctx, ev.ID, origin.BudgetID)
		if errors.Is(err, core.ErrNotFound) {
			// the budget is gone, so is the spent it held
			if err := a.skip(ctx, ev, "budget deleted"); err != nil {
				return out, err
			}
			a.settleOrigin(ctx, origin)
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("reverse on budget %s: %w", origin.BudgetID, err)
		}
		out.Budget = &budget
		slog.InfoContext(ctx, "Budget reversed",
			"budget_id", budget.ID,
			"transaction_id", ev.TransactionID,
			"delta", core.Money{Cents: ev.Delta}.String(),
			"spent", budget.Spent.String())
		a.settleOrigin(ctx, origin)
		return out, nil

	case core.AggregationPending, core.AggregationFailed:
		if err := outbox.Cancel(ctx, origin.ID); err != nil {
			if errors.Is(err, core.ErrConflict) {
				return out, fmt.Errorf("%w: event %s", errOriginInFlight, origin.ID)
			}
			return out, fmt.Errorf("cancel event %s: %w", origin.ID, err)
		}
		return out, a.skip(ctx, ev, "expense never applied")

	case core.AggregationProcessing:
		return out, fmt.Errorf("%w: event %s", errOriginInFlight, origin.ID)

	default:
		return out, a.skip(ctx, ev, "expense never applied")
	}
}

// errOriginInFlight defers a reversal until its expense event settles.
var errOriginInFlight = errors.New("expense aggregation still in flight")

// origin finds the event a stored expense created. Events of transactions
// recorded before origins were kept may be missing.
func (a *Aggregator) origin(ctx context.Context, transactionID string) (core.AggregationEvent, bool, error) {
	events, err := a.store.Outbox().ForTransaction(ctx, transactionID)
	if err != nil {
		return core.AggregationEvent{}, false, fmt.Errorf("find events of transaction %s: %w", transactionID, err)
	}
	for _, ev := range events {
		if ev.Origin() {
			return ev, true, nil
		}
	}
	return core.AggregationEvent{}, false, nil
}

func (a *Aggregator) skip(ctx context.Context, ev core.AggregationEvent, reason string) error {
	if err := a.store.Outbox().MarkSkipped(ctx, ev.ID); err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	slog.DebugContext(ctx, "Reversal skipped", "event_id", ev.ID, "transaction_id", ev.TransactionID, "reason", reason)
	return nil
}

// settleOrigin lets Cleanup drop the origin once its delta is taken back. A
// failure only keeps the row around longer.
func (a *Aggregator) settleOrigin(ctx context.Context, origin core.AggregationEvent) {
	if err := a.store.Outbox().MarkReversed(ctx, origin.ID); err != nil {
		slog.WarnContext(ctx, "Failed to flag aggregation as reversed", "event_id", origin.ID, "error", err)
	}
}
