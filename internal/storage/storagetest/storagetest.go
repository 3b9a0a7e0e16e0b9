// Package storagetest runs service tests against every store backend.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage/sqldb"
)

// Backend names a store constructor.
type Backend struct {
	Name string
	Open func(t testing.TB) interfaces.Store
}

// Backends lists the in-memory store and a migrated in-memory SQLite store.
func Backends() []Backend {
	return []Backend{
		{Name: "memory", Open: func(testing.TB) interfaces.Store { return memory.NewMemoryLedgerStore() }},
		{Name: "sqlite", Open: OpenSQLite},
	}
}

// OpenSQLite returns a migrated SQLite store that is closed with the test.
func OpenSQLite(t testing.TB) interfaces.Store {
	t.Helper()
	s, err := sqldb.Open(sqldb.Options{Type: sqldb.TypeSQLite, DSN: ":memory:", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// Run calls fn once per backend, each in its own subtest with a fresh store.
func Run(t *testing.T, fn func(t *testing.T, store interfaces.Store)) {
	t.Helper()
	for _, b := range Backends() {
		t.Run(b.Name, func(t *testing.T) {
			fn(t, b.Open(t))
		})
	}
}
