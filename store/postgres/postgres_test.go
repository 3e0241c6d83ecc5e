package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
	"github.com/warp/bookstore/market/storetest"
	"github.com/warp/bookstore/store/postgres"
)

// Requires a disposable database; every subtest truncates all tables.
func TestPostgres_Conformance(t *testing.T) {
	dsn := os.Getenv("BOOKSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKSTORE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storetest.Run(t, func(t *testing.T) market.Store {
		require.NoError(t, store.Reset(ctx))
		return store
	})
}
