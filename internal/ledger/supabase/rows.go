package supabase

import (
	"fmt"

	"moneta/internal/core"
)

type transactionRow struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Category    string `json:"category"`
	TxDate      string `json:"tx_date"`
	TxType      string `json:"tx_type"`
	CreatedAt   int64  `json:"created_at"`
}

type budgetRow struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Category   string `json:"category"`
	LimitCents int64  `json:"limit_cents"`
	SpentCents int64  `json:"spent_cents"`
	CreateDate int64  `json:"create_date"`
	Version    int64  `json:"version"`
}

type billRow struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	DueDate     string `json:"due_date"`
	CreateDate  int64  `json:"create_date"`
}

type eventRow struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Category      string `json:"category"`
	DeltaCents    int64  `json:"delta_cents"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error"`
	BudgetID      string `json:"budget_id"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// codec converts between a domain record and its table row. prepare stamps
// server-owned fields on create.
type codec[T any, R any] struct {
	toRow   func(user string, item T) R
	fromRow func(R) (T, error)
	prepare func(item *T, id string, now int64)
}

var transactionCodec = codec[core.Transaction, transactionRow]{
	toRow: func(user string, t core.Transaction) transactionRow {
		return transactionRow{
			ID: t.ID, UserID: user, Title: t.Title, AmountCents: t.Amount.Cents,
			Category: t.Category, TxDate: t.Date.String(), TxType: string(t.Type),
			CreatedAt: nanos(t.CreatedAt),
		}
	},
	fromRow: func(r transactionRow) (core.Transaction, error) {
		d, err := core.ParseDate(r.TxDate)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
		}
		return core.Transaction{
			ID: r.ID, Title: r.Title, Amount: core.Money{Cents: r.AmountCents},
			Category: r.Category, Date: d, Type: core.TransactionType(r.TxType),
			CreatedAt: fromNanos(r.CreatedAt),
		}, nil
	},
	prepare: func(t *core.Transaction, id string, now int64) {
		t.ID = id
		t.CreatedAt = fromNanos(now)
	},
}

var budgetCodec = codec[core.Budget, budgetRow]{
	toRow: func(user string, b core.Budget) budgetRow {
		return budgetRow{
			ID: b.ID, UserID: user, Category: b.Category, LimitCents: b.Limit.Cents,
			SpentCents: b.Spent.Cents, CreateDate: nanos(b.CreateDate), Version: b.Version,
		}
	},
	fromRow: func(r budgetRow) (core.Budget, error) {
		return core.Budget{
			ID: r.ID, Category: r.Category, Limit: core.Money{Cents: r.LimitCents},
			Spent: core.Money{Cents: r.SpentCents}, CreateDate: fromNanos(r.CreateDate),
			Version: r.Version,
		}, nil
	},
	prepare: func(b *core.Budget, id string, now int64) {
		b.ID = id
		b.CreateDate = fromNanos(now)
		b.Spent = core.Money{}
		b.Version = 1
	},
}

var billCodec = codec[core.Bill, billRow]{
	toRow: func(user string, b core.Bill) billRow {
		return billRow{
			ID: b.ID, UserID: user, Name: b.Name, AmountCents: b.Amount.Cents,
			DueDate: b.DueDate.String(), CreateDate: nanos(b.CreateDate),
		}
	},
	fromRow: func(r billRow) (core.Bill, error) {
		d, err := core.ParseDate(r.DueDate)
		if err != nil {
			return core.Bill{}, fmt.Errorf("bill %s: %w", r.ID, err)
		}
		return core.Bill{
			ID: r.ID, Name: r.Name, Amount: core.Money{Cents: r.AmountCents},
			DueDate: d, CreateDate: fromNanos(r.CreateDate),
		}, nil
	},
	prepare: func(b *core.Bill, id string, now int64) {
		b.ID = id
		b.CreateDate = fromNanos(now)
	},
}

func eventToRow(ev core.AggregationEvent) eventRow {
	return eventRow{
		ID: ev.ID, UserID: ev.UserID, TransactionID: ev.TransactionID, Category: ev.Category,
		DeltaCents: ev.Delta, Status: string(ev.Status), Attempts: ev.Attempts,
		LastError: ev.LastError, BudgetID: ev.BudgetID,
		CreatedAt: nanos(ev.CreatedAt), UpdatedAt: nanos(ev.UpdatedAt),
	}
}

func eventFromRow(r eventRow) core.AggregationEvent {
	return core.AggregationEvent{
		ID: r.ID, UserID: r.UserID, TransactionID: r.TransactionID, Category: r.Category,
		Delta: r.DeltaCents, Status: core.AggregationStatus(r.Status), Attempts: r.Attempts,
		LastError: r.LastError, BudgetID: r.BudgetID,
		CreatedAt: fromNanos(r.CreatedAt), UpdatedAt: fromNanos(r.UpdatedAt),
	}
}
