package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/core"
	"moneta/internal/ledger"
	"moneta/internal/ledger/ledgertest"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return newTestRepository(t) })
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	ctx := ledger.WithUser(context.Background(), "alice")
	_, err = first.Budgets().Create(ctx, core.Budget{Category: "Food", Limit: core.Money{Cents: 100}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer second.Close()
	budgets, err := second.Budgets().ListOrdered(ctx, ledger.Order{})
	require.NoError(t, err)
	assert.Len(t, budgets, 1)
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ? WHERE b = ? AND c = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c = $3", Postgres.Rebind(q))
	assert.Equal(t, "MAX(0, x + ?)", SQLite.NonNegative("x + ?"))
	assert.Equal(t, "GREATEST(0, x + ?)", Postgres.NonNegative("x + ?"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestClaimReclaimsStaleProcessing(t *testing.T) {
	repo := newTestRepository(t)
	ctx := ledger.WithUser(context.Background(), "alice")
	id, err := repo.Outbox().Enqueue(ctx, core.AggregationEvent{Category: "Food", Delta: 100, Status: core.AggregationProcessing})
	require.NoError(t, err)

	claimed, err := repo.Outbox().Claim(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
}
