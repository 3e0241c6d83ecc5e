// Package storetest is a conformance suite every market.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) market.Store

var base = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("ResetToken", func(t *testing.T) { testResetToken(t, newStore(t)) })
	t.Run("Books", func(t *testing.T) { testBooks(t, newStore(t)) })
	t.Run("BookFilter", func(t *testing.T) { testBookFilter(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("TransitionStatus", func(t *testing.T) { testTransitionStatus(t, newStore(t)) })
	t.Run("Entitlement", func(t *testing.T) { testEntitlement(t, newStore(t)) })
	t.Run("ConcurrentEntitlement", func(t *testing.T) { testConcurrentEntitlement(t, newStore(t)) })
}

// User builds a user record with sensible defaults.
func User(id, email string) *market.User {
	return &market.User{
		ID:           id,
		Email:        email,
		PasswordHash: "hash",
		Name:         "User " + id,
		Role:         market.RoleUser,
		Active:       true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

// Book builds a book record with sensible defaults.
func Book(id, sellerID string, cents int64) *market.Book {
	return &market.Book{
		ID:          id,
		Title:       "Title " + id,
		Author:      "Author",
		Description: "Description",
		Price:       market.NewMoney(cents, "usd"),
		Category:    "fiction",
		SellerID:    sellerID,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func pending(id, buyerID, bookID string, created time.Time) *market.Transaction {
	return &market.Transaction{
		ID:            id,
		BuyerID:       buyerID,
		BookID:        bookID,
		Amount:        market.NewMoney(1999, "usd"),
		Status:        market.StatusPending,
		PaymentMethod: "sandbox",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func testUsers(t *testing.T, s market.Store) {
	ctx := context.Background()

	u := User("u1", "  Alice@Example.COM ")
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.Active)
	assert.Equal(t, market.RoleUser, got.Role)
	assert.True(t, got.CreatedAt.Equal(base))

	err = s.CreateUser(ctx, User("u2", "ALICE@example.com"))
	assert.ErrorIs(t, err, market.ErrDuplicateEmail)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, market.ErrUserNotFound)

	login := base.Add(time.Hour)
	got.Name = "Alice"
	got.Role = market.RoleAdmin
	got.LastLogin = &login
	got.UpdatedAt = login
	require.NoError(t, s.UpdateUser(ctx, got))

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, market.RoleAdmin, got.Role)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(login))

	require.NoError(t, s.CreateUser(ctx, User("u2", "bob@example.com")))
	bob, err := s.GetUser(ctx, "u2")
	require.NoError(t, err)
	bob.Email = "alice@example.com"
	assert.ErrorIs(t, s.UpdateUser(ctx, bob), market.ErrDuplicateEmail)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, s.DeleteUser(ctx, "u2"))
	assert.ErrorIs(t, s.DeleteUser(ctx, "u2"), market.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdateUser(ctx, bob), market.ErrUserNotFound)
}

func testResetToken(t *testing.T, s market.Store) {
	ctx := context.Background()

	u := User("u1", "a@example.com")
	expires := base.Add(10 * time.Minute)
	u.ResetTokenHash = "abc123"
	u.ResetExpires = &expires
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByResetToken(ctx, "abc123", base)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.GetUserByResetToken(ctx, "abc123", base.Add(11*time.Minute))
	assert.ErrorIs(t, err, market.ErrUserNotFound)

	_, err = s.GetUserByResetToken(ctx, "other", base)
	assert.ErrorIs(t, err, market.ErrUserNotFound)

	got.ResetTokenHash = ""
	got.ResetExpires = nil
	require.NoError(t, s.UpdateUser(ctx, got))
	_, err = s.GetUserByResetToken(ctx, "abc123", base)
	assert.ErrorIs(t, err, market.ErrUserNotFound)
}

func testBooks(t *testing.T, s market.Store) {
	ctx := context.Background()

	b := Book("b1", "seller", 1999)
	b.CoverURL = "/assets/cover.png"
	b.ContentURL = "/assets/book.pdf"
	require.NoError(t, s.CreateBook(ctx, b))

	got, err := s.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, market.NewMoney(1999, "usd"), got.Price)
	assert.Equal(t, "/assets/book.pdf", got.ContentURL)
	assert.Empty(t, got.PurchasedBy)

	got.Title = "New title"
	got.Price = market.NewMoney(2500, "usd")
	require.NoError(t, s.UpdateBook(ctx, got))

	got, err = s.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, int64(2500), got.Price.Amount)

	_, err = s.GetBook(ctx, "missing")
	assert.ErrorIs(t, err, market.ErrBookNotFound)
	assert.ErrorIs(t, s.UpdateBook(ctx, Book("missing", "x", 1)), market.ErrBookNotFound)

	require.NoError(t, s.DeleteBook(ctx, "b1"))
	assert.ErrorIs(t, s.DeleteBook(ctx, "b1"), market.ErrBookNotFound)
}

func testBookFilter(t *testing.T, s market.Store) {
	ctx := context.Background()

	cheap := Book("b1", "s1", 500)
	mid := Book("b2", "s1", 1500)
	mid.Category = "science"
	mid.CreatedAt = base.Add(time.Minute)
	pricey := Book("b3", "s2", 3000)
	pricey.Author = "Other"
	pricey.CreatedAt = base.Add(2 * time.Minute)
	for _, b := range []*market.Book{cheap, mid, pricey} {
		require.NoError(t, s.CreateBook(ctx, b))
	}

	ids := func(books []market.Book) []string {
		out := make([]string, len(books))
		for i, b := range books {
			out[i] = b.ID
		}
		return out
	}
	p := func(v int64) *int64 { return &v }

	all, err := s.ListBooks(ctx, market.BookFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b3", "b2", "b1"}, ids(all))

	got, err := s.ListBooks(ctx, market.BookFilter{Category: "science"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, ids(got))

	got, err = s.ListBooks(ctx, market.BookFilter{Author: "Other"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b3"}, ids(got))

	got, err = s.ListBooks(ctx, market.BookFilter{SellerID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1"}, ids(got))

	got, err = s.ListBooks(ctx, market.BookFilter{MinPrice: p(1000), MaxPrice: p(3000)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b3", "b2"}, ids(got))

	got, err = s.ListBooks(ctx, market.BookFilter{Category: "poetry"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func testTransactions(t *testing.T, s market.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, pending("t1", "u1", "b1", base)))
	require.NoError(t, s.CreateTransaction(ctx, pending("t2", "u1", "b2", base.Add(time.Minute))))
	require.NoError(t, s.CreateTransaction(ctx, pending("t3", "u2", "b1", base.Add(2*time.Minute))))

	got, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.SessionID)
	assert.Equal(t, market.NewMoney(1999, "usd"), got.Amount)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.FindBySession(ctx, "cs_1")
	assert.ErrorIs(t, err, market.ErrTransactionNotFound)

	require.NoError(t, s.AttachSession(ctx, "t1", "cs_1", base))
	assert.ErrorIs(t, s.AttachSession(ctx, "t1", "cs_other", base), market.ErrSessionAlreadyAttached)
	assert.ErrorIs(t, s.AttachSession(ctx, "missing", "cs_x", base), market.ErrTransactionNotFound)

	got, err = s.FindBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "cs_1", got.SessionID)

	list, err := s.ListTransactions(ctx, market.TransactionFilter{BuyerID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID)
	assert.Equal(t, "t1", list[1].ID)

	cutoff := base.Add(90 * time.Second)
	list, err = s.ListTransactions(ctx, market.TransactionFilter{Status: market.StatusPending, CreatedBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListTransactions(ctx, market.TransactionFilter{BuyerID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, err = s.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, market.ErrTransactionNotFound)
}

func testTransitionStatus(t *testing.T, s market.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, pending("t1", "u1", "b1", base)))

	later := base.Add(time.Minute)
	got, err := s.TransitionStatus(ctx, "t1", market.StatusCompleted, "pi_1", later)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, got.Status)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	assert.True(t, got.UpdatedAt.Equal(later))

	_, err = s.TransitionStatus(ctx, "t1", market.StatusFailed, "", later)
	assert.ErrorIs(t, err, market.ErrNotPending)

	got, err = s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, got.Status)

	_, err = s.TransitionStatus(ctx, "missing", market.StatusFailed, "", later)
	assert.ErrorIs(t, err, market.ErrTransactionNotFound)
}

func testEntitlement(t *testing.T, s market.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, User("u1", "a@example.com")))
	require.NoError(t, s.CreateUser(ctx, User("u2", "b@example.com")))
	require.NoError(t, s.CreateBook(ctx, Book("b1", "seller", 1999)))
	require.NoError(t, s.CreateBook(ctx, Book("b2", "seller", 500)))

	require.NoError(t, s.GrantEntitlement(ctx, "u1", "b1"))
	require.NoError(t, s.GrantEntitlement(ctx, "u1", "b1"))
	require.NoError(t, s.GrantEntitlement(ctx, "u2", "b1"))
	require.NoError(t, s.GrantEntitlement(ctx, "u1", "b2"))

	u1, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2"}, u1.PurchasedBooks)

	b1, err := s.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, b1.PurchasedBy)

	// Profile updates leave the purchased set alone.
	u1.Name = "Renamed"
	u1.PurchasedBooks = nil
	require.NoError(t, s.UpdateUser(ctx, u1))
	u1, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u1.PurchasedBooks, 2)

	b1.Title = "Renamed"
	b1.PurchasedBy = nil
	require.NoError(t, s.UpdateBook(ctx, b1))
	b1, err = s.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, b1.PurchasedBy, 2)

	require.NoError(t, s.DeleteBook(ctx, "b2"))
	u1, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, u1.PurchasedBooks)
}

func testConcurrentEntitlement(t *testing.T, s market.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, User("u1", "a@example.com")))
	require.NoError(t, s.CreateBook(ctx, Book("b1", "seller", 1999)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.GrantEntitlement(ctx, "u1", "b1"))
		}()
	}
	wg.Wait()

	b1, err := s.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, b1.PurchasedBy)

	u1, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, u1.PurchasedBooks)
}
