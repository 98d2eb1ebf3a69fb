// Package storage is the SQL ledger backend. The same code serves SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx) through a Dialect.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	transactions *collection[core.Transaction]
	budgets      *budgetCollection
	bills        *collection[core.Bill]
	outbox       *outbox
}

var _ ledger.Store = (*Repository)(nil)

// NewSQLiteRepository opens (creating if needed) the database file at dbPath
// and applies migrations.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open(SQLite.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection serializes writes
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(SQLite, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newRepository(db, SQLite), nil
}

// NewPostgresRepository connects to databaseURL through the pgx stdlib driver
// and applies migrations.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	db, err := sql.Open(Postgres.Driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(Postgres, databaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newRepository(db, Postgres), nil
}

func newRepository(db *sql.DB, dialect Dialect) *Repository {
	r := &Repository{db: db, dialect: dialect, now: time.Now}
	r.transactions = newCollection(r, ledger.TransactionSchema, transactionMapper,
		func(t *core.Transaction, id string, now time.Time) {
			t.ID = id
			t.CreatedAt = now
		})
	r.budgets = &budgetCollection{collection: newCollection(r, ledger.BudgetSchema, budgetMapper,
		func(b *core.Budget, id string, now time.Time) {
			b.ID = id
			b.CreateDate = now
			b.Spent = core.Money{}
			b.Version = 1
		})}
	r.bills = newCollection(r, ledger.BillSchema, billMapper,
		func(b *core.Bill, id string, now time.Time) {
			b.ID = id
			b.CreateDate = now
		})
	r.outbox = &outbox{repo: r}
	return r
}

func (r *Repository) Transactions() ledger.Collection[core.Transaction] { return r.transactions }
func (r *Repository) Budgets() ledger.BudgetCollection                 { return r.budgets }
func (r *Repository) Bills() ledger.Collection[core.Bill]               { return r.bills }
func (r *Repository) Outbox() ledger.Outbox                             { return r.outbox }

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		slog.Info("Closing ledger database", "dialect", r.dialect.Name)
		return r.db.Close()
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.dialect.Rebind(q), args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// mapper binds a record type to its table columns. columns[0] is always id.
type mapper[T any] struct {
	columns []string
	scan    func(rowScanner) (T, error)
	values  func(T) []any
}

func (m mapper[T]) selectList() string { return strings.Join(m.columns, ", ") }

var transactionMapper = mapper[core.Transaction]{
	columns: []string{"id", "title", "amount_cents", "category", "tx_date", "tx_type", "created_at"},
	scan: func(row rowScanner) (core.Transaction, error) {
		var (
			t             core.Transaction
			date, txType  string
			createdAtNano int64
		)
		if err := row.Scan(&t.ID, &t.Title, &t.Amount.Cents, &t.Category, &date, &txType, &createdAtNano); err != nil {
			return t, err
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return t, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		t.Date = d
		t.Type = core.TransactionType(txType)
		t.CreatedAt = time.Unix(0, createdAtNano).UTC()
		return t, nil
	},
	values: func(t core.Transaction) []any {
		return []any{t.ID, t.Title, t.Amount.Cents, t.Category, t.Date.String(), string(t.Type), t.CreatedAt.UnixNano()}
	},
}

var budgetMapper = mapper[core.Budget]{
	columns: []string{"id", "category", "limit_cents", "spent_cents", "create_date", "version"},
	scan: func(row rowScanner) (core.Budget, error) {
		var (
			b       core.Budget
			created int64
		)
		if err := row.Scan(&b.ID, &b.Category, &b.Limit.Cents, &b.Spent.Cents, &created, &b.Version); err != nil {
			return b, err
		}
		b.CreateDate = time.Unix(0, created).UTC()
		return b, nil
	},
	values: func(b core.Budget) []any {
		return []any{b.ID, b.Category, b.Limit.Cents, b.Spent.Cents, b.CreateDate.UnixNano(), b.Version}
	},
}

var billMapper = mapper[core.Bill]{
	columns: []string{"id", "name", "amount_cents", "due_date", "create_date"},
	scan: func(row rowScanner) (core.Bill, error) {
		var (
			b       core.Bill
			due     string
			created int64
		)
		if err := row.Scan(&b.ID, &b.Name, &b.Amount.Cents, &due, &created); err != nil {
			return b, err
		}
		d, err := core.ParseDate(due)
		if err != nil {
			return b, fmt.Errorf("bill %s: %w", b.ID, err)
		}
		b.DueDate = d
		b.CreateDate = time.Unix(0, created).UTC()
		return b, nil
	},
	values: func(b core.Bill) []any {
		return []any{b.ID, b.Name, b.Amount.Cents, b.DueDate.String(), b.CreateDate.UnixNano()}
	},
}
