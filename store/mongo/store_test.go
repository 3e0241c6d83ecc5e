package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
	"github.com/warp/bookstore/market/storetest"
	"github.com/warp/bookstore/store/mongo"
)

func TestMongo_Conformance(t *testing.T) {
	uri := os.Getenv("BOOKSTORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BOOKSTORE_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	store, err := mongo.New(ctx, uri, "bookstore_test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storetest.Run(t, func(t *testing.T) market.Store {
		require.NoError(t, store.Reset(ctx))
		return store
	})
}
