// Package backend opens the ledger store selected by BACKEND_TYPE.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"moneta/internal/config"
	"moneta/internal/ledger"
	"moneta/internal/ledger/memory"
	"moneta/internal/ledger/supabase"
	"moneta/internal/storage"
)

type Kind string

const (
	Memory   Kind = config.BackendMemory
	SQLite   Kind = config.BackendSQLite
	Postgres Kind = config.BackendPostgres
	Supabase Kind = config.BackendSupabase
)

// Options is the subset of the application config a store needs.
type Options struct {
	Kind          Kind
	SQLitePath    string
	DatabaseURL   string
	SupabaseURL   string
	SupabaseKey   string
	MaxCASRetries int
}

type opener struct {
	check func(Options) error
	open  func(context.Context, Options, *slog.Logger) (ledger.Store, error)
}

var openers = map[Kind]opener{
	Memory: {
		check: func(Options) error { return nil },
		open: func(_ context.Context, _ Options, logger *slog.Logger) (ledger.Store, error) {
			logger.Info("Initialized memory backend")
			return memory.New(), nil
		},
	},
	SQLite: {
		check: func(o Options) error {
			if o.SQLitePath == "" {
				return errors.New("SQLITE_DB_PATH is required for the sqlite backend")
			}
			return nil
		},
		open: func(_ context.Context, o Options, logger *slog.Logger) (ledger.Store, error) {
			repo, err := storage.NewSQLiteRepository(o.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("open sqlite: %w", err)
			}
			logger.Info("Initialized SQLite backend", "db_path", o.SQLitePath)
			return repo, nil
		},
	},
	Postgres: {
		check: func(o Options) error {
			if o.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for the postgres backend")
			}
			return nil
		},
		open: func(ctx context.Context, o Options, logger *slog.Logger) (ledger.Store, error) {
			repo, err := storage.NewPostgresRepository(ctx, o.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open postgres: %w", err)
			}
			logger.Info("Initialized Postgres backend")
			return repo, nil
		},
	},
	Supabase: {
		check: func(o Options) error {
			if o.SupabaseURL == "" || o.SupabaseKey == "" {
				return errors.New("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend")
			}
			return nil
		},
		open: func(ctx context.Context, o Options, logger *slog.Logger) (ledger.Store, error) {
			var opts []supabase.Option
			if o.MaxCASRetries > 0 {
				opts = append(opts, supabase.WithMaxCASRetries(o.MaxCASRetries))
			}
			store, err := supabase.New(o.SupabaseURL, o.SupabaseKey, opts...)
			if err != nil {
				return nil, fmt.Errorf("create supabase client: %w", err)
			}
			if err := store.Ping(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("reach supabase: %w", err)
			}
			logger.Info("Initialized Supabase backend", "url", o.SupabaseURL)
			return store, nil
		},
	},
}

// Kinds lists the supported backends in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (k Kind) Valid() bool {
	_, ok := openers[k]
	return ok
}

// FromAppConfig extracts store options from cfg.
func FromAppConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, errors.New("nil config")
	}
	o := Options{
		Kind:          Kind(cfg.BackendType),
		SQLitePath:    cfg.SQLiteDBPath,
		DatabaseURL:   cfg.DatabaseURL,
		SupabaseURL:   cfg.SupabaseURL,
		SupabaseKey:   cfg.SupabaseKey,
		MaxCASRetries: cfg.AggregationMaxCASRetries,
	}
	return o, o.Validate()
}

func (o Options) Validate() error {
	op, ok := openers[o.Kind]
	if !ok {
		return fmt.Errorf("unknown backend %q (want one of %v)", o.Kind, Kinds())
	}
	return op.check(o)
}

// Open validates o and returns a connected store. The caller owns Close.
func Open(ctx context.Context, o Options, logger *slog.Logger) (ledger.Store, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return openers[o.Kind].open(ctx, o, logger)
}
