// Package supabase is a ledger backend over a Supabase project's REST API.
// The project must carry the tables from storage/migrations/postgres.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

// DefaultMaxCASRetries bounds optimistic retries on versioned writes.
const DefaultMaxCASRetries = 5

type Store struct {
	client        *supabase.Client
	now           func() time.Time
	maxCASRetries int

	transactions *collection[core.Transaction, transactionRow]
	budgets      *budgetCollection
	bills        *collection[core.Bill, billRow]
	outbox       *outbox
}

var _ ledger.Store = (*Store)(nil)

type Option func(*Store)

// WithMaxCASRetries sets how often a conflicting versioned write is retried
// before failing with core.ErrConflict.
func WithMaxCASRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxCASRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(url, key string, opts ...Option) (*Store, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	s := &Store{client: client, now: time.Now, maxCASRetries: DefaultMaxCASRetries}
	for _, opt := range opts {
		opt(s)
	}
	s.transactions = newCollection(s, ledger.TransactionSchema, transactionCodec)
	s.budgets = &budgetCollection{collection: newCollection(s, ledger.BudgetSchema, budgetCodec)}
	s.bills = newCollection(s, ledger.BillSchema, billCodec)
	s.outbox = &outbox{store: s}
	return s, nil
}

func (s *Store) Transactions() ledger.Collection[core.Transaction] { return s.transactions }
func (s *Store) Budgets() ledger.BudgetCollection                 { return s.budgets }
func (s *Store) Bills() ledger.Collection[core.Bill]               { return s.bills }
func (s *Store) Outbox() ledger.Outbox                             { return s.outbox }

// Ping issues a minimal read against the budgets table.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.client.From("budgets").Select("id", "", false).Limit(1, "").Execute()
	if err != nil {
		return core.ReadFailure("ping supabase", err)
	}
	return nil
}

func (s *Store) Close() error {
	slog.Info("Closing supabase ledger")
	return nil
}

func (s *Store) from(table string) *postgrest.QueryBuilder {
	return s.client.From(table)
}

// decode unmarshals a PostgREST response body into rows.
func decode[R any](data []byte) ([]R, error) {
	var rows []R
	if len(data) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
