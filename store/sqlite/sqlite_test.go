package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
	"github.com/warp/bookstore/market/storetest"
	"github.com/warp/bookstore/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) market.Store {
		return newTestStore(t)
	})
}

func TestSQLite_FileDatabaseSurvivesReopen(t *testing.T) {
	// GIVEN: A file-backed store with a granted entitlement
	// WHEN: The store is closed and reopened
	// THEN: Schema migration is idempotent and the data is still there

	path := filepath.Join(t.TempDir(), "bookstore.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, storetest.User("u1", "a@example.com")))
	require.NoError(t, store.CreateBook(ctx, storetest.Book("b1", "seller", 1999)))
	require.NoError(t, store.GrantEntitlement(ctx, "u1", "b1"))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, u.PurchasedBooks)
}

func TestSQLite_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, storetest.User("u1", "a@example.com")))
	require.NoError(t, store.CreateBook(ctx, storetest.Book("b1", "seller", 1999)))
	require.NoError(t, store.CreateTransaction(ctx, &market.Transaction{
		ID: "t1", BuyerID: "u1", BookID: "b1",
		Amount: market.NewMoney(1999, "usd"), Status: market.StatusPending,
		PaymentMethod: "sandbox", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	require.NoError(t, store.Reset(ctx))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	_, err = store.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, market.ErrTransactionNotFound)
}

func TestSQLite_GrantForMissingBook(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, storetest.User("u1", "a@example.com")))

	err := store.GrantEntitlement(ctx, "u1", "missing")
	require.Error(t, err)
}
