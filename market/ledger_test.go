package market_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
	"github.com/warp/bookstore/market/store"
	"github.com/warp/bookstore/payment/sandbox"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ledgerFixture struct {
	ledger   *market.Ledger
	store    *store.Memory
	provider *sandbox.Provider
	clock    *testClock
}

func newTestLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	mem := store.NewMemory()
	provider := sandbox.New("http://checkout.test", "whsec_test")
	clock := &testClock{now: time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)}
	ledger := market.NewLedger(mem, provider, market.LedgerConfig{
		FrontendURL:   "http://shop.test/",
		PaymentMethod: "sandbox",
		SessionTTL:    24 * time.Hour,
		Now:           clock.Now,
	})
	return &ledgerFixture{ledger: ledger, store: mem, provider: provider, clock: clock}
}

func (f *ledgerFixture) addUser(t *testing.T, id, email string) *market.User {
	t.Helper()
	u := &market.User{
		ID:        id,
		Email:     email,
		Name:      "Buyer " + id,
		Role:      market.RoleUser,
		Active:    true,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *ledgerFixture) addBook(t *testing.T, id string, cents int64) *market.Book {
	t.Helper()
	b := &market.Book{
		ID:          id,
		Title:       "Book " + id,
		Author:      "Author",
		Description: "A book",
		Price:       market.NewMoney(cents, "usd"),
		Category:    "fiction",
		SellerID:    "seller-1",
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, f.store.CreateBook(context.Background(), b))
	return b
}

// =============================================================================
// BEGIN CHECKOUT
// =============================================================================

func TestLedger_BeginCheckout_CreatesPendingWithSession(t *testing.T) {
	// GIVEN: A buyer and a book priced 19.99
	// WHEN: The buyer begins checkout
	// THEN: Exactly one pending transaction exists with the session id attached

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Contains(t, sess.RedirectURL, sess.SessionID)

	txs, err := f.store.ListTransactions(ctx, market.TransactionFilter{BuyerID: "u1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, sess.TransactionID, tx.ID)
	assert.Equal(t, market.StatusPending, tx.Status)
	assert.Equal(t, sess.SessionID, tx.SessionID)
	assert.Equal(t, int64(1999), tx.Amount.Amount)
	assert.Equal(t, "usd", tx.Amount.Currency)
	assert.Equal(t, "sandbox", tx.PaymentMethod)
	assert.Empty(t, tx.PaymentIntentID)
	assert.True(t, market.ValidID(market.PrefixTransaction, tx.ID))
}

func TestLedger_BeginCheckout_SessionRequest(t *testing.T) {
	// GIVEN: A buyer and a book
	// WHEN: Checkout begins
	// THEN: The provider is asked for the book price with return URLs and metadata

	f := newTestLedger(t)
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(context.Background(), "u1", "b1")
	require.NoError(t, err)

	req, ok := f.provider.Request(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, market.NewMoney(1999, "usd"), req.Amount)
	assert.Equal(t, "Book b1", req.Name)
	assert.Equal(t, "http://shop.test/payment/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "http://shop.test/payment/cancel", req.CancelURL)
	assert.Equal(t, sess.TransactionID, req.Metadata[market.MetaTransactionID])
	assert.Equal(t, "b1", req.Metadata[market.MetaBookID])
	assert.Equal(t, "u1", req.Metadata[market.MetaUserID])
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), req.ExpiresAt)
}

func TestLedger_BeginCheckout_MissingRecords_NotFound(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 500)

	_, err := f.ledger.BeginCheckout(ctx, "u1", "missing")
	require.Error(t, err)
	assert.Equal(t, market.KindNotFound, market.KindOf(err))
	assert.Equal(t, "book_not_found", market.ReasonOf(err))

	_, err = f.ledger.BeginCheckout(ctx, "ghost", "b1")
	require.Error(t, err)
	assert.Equal(t, market.KindNotFound, market.KindOf(err))
	assert.Equal(t, "buyer_not_found", market.ReasonOf(err))

	txs, err := f.store.ListTransactions(ctx, market.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedger_BeginCheckout_ProviderFailure(t *testing.T) {
	// GIVEN: The provider is down
	// WHEN: Checkout begins
	// THEN: An upstream error is returned and the transaction stays pending without a session

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)
	f.provider.FailNextCreate(market.ErrProviderUnavailable)

	_, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))
	assert.True(t, market.IsRetryable(err))

	txs, err := f.store.ListTransactions(ctx, market.TransactionFilter{BuyerID: "u1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, market.StatusPending, txs[0].Status)
	assert.Empty(t, txs[0].SessionID)
}

func TestLedger_AmountSnapshot_SurvivesPriceChange(t *testing.T) {
	// GIVEN: A pending transaction for a 19.99 book
	// WHEN: The seller raises the price before the buyer pays
	// THEN: The transaction keeps the original amount

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	book := f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)

	book.Price = market.NewMoney(2999, "usd")
	require.NoError(t, f.store.UpdateBook(ctx, book))
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	tx, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1999), tx.Amount.Amount)
}

// =============================================================================
// CONFIRM PAYMENT
// =============================================================================

func TestLedger_ConfirmPayment_Paid_GrantsEntitlement(t *testing.T) {
	// GIVEN: u1 began checkout for b1 (19.99) and paid
	// WHEN: u1 confirms
	// THEN: The transaction completes and both sides record the purchase

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	tx, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)
	assert.NotEmpty(t, tx.PaymentIntentID)
	assert.Equal(t, int64(1999), tx.Amount.Amount)

	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, user.PurchasedBooks)

	book, err := f.store.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, book.PurchasedBy)
}

func TestLedger_ConfirmPayment_NotPaid_StaysFailed(t *testing.T) {
	// GIVEN: A session the provider reports as unpaid
	// WHEN: The buyer confirms, then the session later reports paid, then they confirm again
	// THEN: The transaction is failed, stays failed, and no entitlement is granted

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)

	tx, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusFailed, tx.Status)
	assert.Equal(t, 1, f.provider.Retrievals())

	require.NoError(t, f.provider.MarkPaid(sess.SessionID))
	tx, err = f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusFailed, tx.Status)
	assert.Equal(t, 1, f.provider.Retrievals(), "terminal records are not re-checked with the provider")

	book, err := f.store.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, book.PurchasedBy)
}

func TestLedger_ConfirmPayment_Idempotent(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	first, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, user.PurchasedBooks, 1)
	book, err := f.store.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, book.PurchasedBy, 1)
}

func TestLedger_ConfirmPayment_ConcurrentSingleEntitlement(t *testing.T) {
	// GIVEN: A paid session
	// WHEN: Twenty confirmations race
	// THEN: All see completed and the buyer appears exactly once in PurchasedBy

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	const n = 20
	var wg sync.WaitGroup
	results := make([]*market.Transaction, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, market.StatusCompleted, results[i].Status)
	}

	book, err := f.store.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, book.PurchasedBy)
	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, user.PurchasedBooks)
}

func TestLedger_ConfirmPayment_OtherBuyer_NotFound(t *testing.T) {
	// GIVEN: u1's paid session
	// WHEN: u2 tries to confirm it
	// THEN: NotFound, and u1's transaction is untouched

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addUser(t, "u2", "u2@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	_, err = f.ledger.ConfirmPayment(ctx, "u2", sess.SessionID)
	require.Error(t, err)
	assert.True(t, market.IsNotFound(err))
	assert.Equal(t, "transaction_not_found", market.ReasonOf(err))

	tx, err := f.store.GetTransaction(ctx, sess.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusPending, tx.Status)
	assert.Equal(t, 0, f.provider.Retrievals())
}

func TestLedger_ConfirmPayment_UnknownSession_NotFound(t *testing.T) {
	f := newTestLedger(t)
	f.addUser(t, "u1", "u1@example.com")

	_, err := f.ledger.ConfirmPayment(context.Background(), "u1", "cs_nope")
	require.Error(t, err)
	assert.True(t, market.IsNotFound(err))

	_, err = f.ledger.ConfirmPayment(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Equal(t, market.KindValidation, market.KindOf(err))
}

func TestLedger_ConfirmPayment_ProviderError_StaysPending(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	f.provider.FailNextRetrieve(errors.New("connection reset"))

	_, err = f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))

	tx, err := f.store.GetTransaction(ctx, sess.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusPending, tx.Status)

	// The retry succeeds once the provider answers.
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))
	got, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, got.Status)
}

func TestLedger_ConfirmPayment_HealsInterruptedGrant(t *testing.T) {
	// GIVEN: A completed transaction whose entitlement was never written
	// WHEN: The buyer confirms again
	// THEN: The grant is applied

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	_, err = f.store.TransitionStatus(ctx, sess.TransactionID, market.StatusCompleted, "pi_1", f.clock.Now())
	require.NoError(t, err)

	tx, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)

	book, err := f.store.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, book.PurchasedBy)
}

// =============================================================================
// SESSION EVENTS
// =============================================================================

func TestLedger_HandleSessionEvent_Paid(t *testing.T) {
	// GIVEN: A pending transaction
	// WHEN: The provider notifies that the session was paid
	// THEN: The transaction completes and the buyer is entitled, and a later confirm agrees

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)

	tx, err := f.ledger.HandleSessionEvent(ctx, market.SessionEvent{
		Type:      "session.paid",
		SessionID: sess.SessionID,
		Status:    market.SessionStatus{Paid: true, PaymentIntentID: "pi_evt"},
	})
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)
	assert.Equal(t, "pi_evt", tx.PaymentIntentID)

	confirmed, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, confirmed.Status)
	assert.Equal(t, 0, f.provider.Retrievals())

	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, user.PurchasedBooks)
}

func TestLedger_HandleSessionEvent_UnknownSession(t *testing.T) {
	f := newTestLedger(t)

	_, err := f.ledger.HandleSessionEvent(context.Background(), market.SessionEvent{SessionID: "cs_unknown"})
	require.Error(t, err)
	assert.True(t, market.IsNotFound(err))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestLedger_ListForBuyer_NewestFirstWithBook(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addUser(t, "u2", "u2@example.com")
	f.addBook(t, "b1", 1999)
	f.addBook(t, "b2", 500)

	first, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.ledger.BeginCheckout(ctx, "u1", "b2")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.ledger.BeginCheckout(ctx, "u2", "b1")
	require.NoError(t, err)

	views, err := f.ledger.ListForBuyer(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.TransactionID, views[0].ID)
	assert.Equal(t, first.TransactionID, views[1].ID)
	require.NotNil(t, views[0].Book)
	assert.Equal(t, "Book b2", views[0].Book.Title)
	assert.Equal(t, int64(500), views[0].Book.Price.Amount)
	assert.Nil(t, views[0].Buyer)

	empty, err := f.ledger.ListForBuyer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLedger_GetByID_Ownership(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addUser(t, "u2", "u2@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)

	view, err := f.ledger.GetByID(ctx, "u1", sess.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, sess.TransactionID, view.ID)
	assert.Equal(t, "Book b1", view.Book.Title)

	_, err = f.ledger.GetByID(ctx, "u2", sess.TransactionID)
	require.Error(t, err)
	assert.True(t, market.IsNotFound(err))
}

func TestLedger_ListAll_JoinsBuyerAndToleratesDeletedBook(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	_, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteBook(ctx, "b1"))

	views, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Nil(t, views[0].Book)
	require.NotNil(t, views[0].Buyer)
	assert.Equal(t, "u1@example.com", views[0].Buyer.Email)
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestLedger_ExpireAbandoned(t *testing.T) {
	// GIVEN: One stale pending, one fresh pending and one stale completed transaction
	// WHEN: Sweeping with a cutoff between them
	// THEN: Only the stale pending one expires, and confirming it afterwards returns it unchanged

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)
	f.addBook(t, "b2", 500)
	f.addBook(t, "b3", 700)

	stale, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	paid, err := f.ledger.BeginCheckout(ctx, "u1", "b3")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(paid.SessionID))
	_, err = f.ledger.ConfirmPayment(ctx, "u1", paid.SessionID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	fresh, err := f.ledger.BeginCheckout(ctx, "u1", "b2")
	require.NoError(t, err)

	n, err := f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetTransaction(ctx, stale.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusExpired, got.Status)

	got, err = f.store.GetTransaction(ctx, fresh.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusPending, got.Status)

	got, err = f.store.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, got.Status)

	confirmed, err := f.ledger.ConfirmPayment(ctx, "u1", stale.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusExpired, confirmed.Status)
	assert.Empty(t, confirmed.PaymentIntentID)

	again, err := f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestLedger_ExpireAbandoned_SettlesPaidSession(t *testing.T) {
	// GIVEN: A stale pending transaction whose session the provider reports paid
	// WHEN: Sweeping
	// THEN: It is completed and granted instead of expired

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	f.clock.Advance(25 * time.Hour)
	n, err := f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.store.GetTransaction(ctx, sess.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.PaymentIntentID)

	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, user.PurchasedBooks)
}

func TestLedger_ExpireAbandoned_ProviderError_StaysPending(t *testing.T) {
	// GIVEN: Two stale pending transactions and a provider failing one lookup
	// WHEN: Sweeping
	// THEN: The unanswered one stays pending for the next sweep, the other expires

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	first, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	f.provider.FailNextRetrieve(errors.New("provider down"))
	n, err := f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	statuses := map[market.Status]int{}
	for _, id := range []string{first.TransactionID, second.TransactionID} {
		got, err := f.store.GetTransaction(ctx, id)
		require.NoError(t, err)
		statuses[got.Status]++
	}
	assert.Equal(t, 1, statuses[market.StatusPending])
	assert.Equal(t, 1, statuses[market.StatusExpired])

	n, err = f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_ExpireAbandoned_NoSession(t *testing.T) {
	// GIVEN: A stale transaction whose session was never created
	// WHEN: Sweeping
	// THEN: It expires without asking the provider

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	f.provider.FailNextCreate(errors.New("provider down"))
	_, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.Error(t, err)

	f.clock.Advance(25 * time.Hour)
	n, err := f.ledger.ExpireAbandoned(ctx, f.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.provider.Retrievals())
}

// =============================================================================
// DELETED RECORDS
// =============================================================================

func TestLedger_ConfirmPayment_BookDeletedBeforePayment(t *testing.T) {
	// GIVEN: A checkout whose book is deleted while the buyer is paying
	// WHEN: The buyer confirms, twice
	// THEN: The transaction completes and both confirms succeed with nothing granted

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteBook(ctx, "b1"))
	require.NoError(t, f.provider.MarkPaid(sess.SessionID))

	tx, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)

	again, err := f.ledger.ConfirmPayment(ctx, "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, again.Status)

	user, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.PurchasedBooks)
}

func TestLedger_HandleSessionEvent_BookDeleted(t *testing.T) {
	// GIVEN: A checkout whose book is deleted before the paid notification
	// WHEN: The notification arrives, and is redelivered
	// THEN: Both deliveries succeed and the transaction is completed

	f := newTestLedger(t)
	ctx := context.Background()
	f.addUser(t, "u1", "u1@example.com")
	f.addBook(t, "b1", 1999)

	sess, err := f.ledger.BeginCheckout(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteBook(ctx, "b1"))

	ev := market.SessionEvent{
		SessionID: sess.SessionID,
		Status:    market.SessionStatus{Paid: true, PaymentIntentID: "pi_evt"},
	}
	tx, err := f.ledger.HandleSessionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)

	tx, err = f.ledger.HandleSessionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, market.StatusCompleted, tx.Status)
}

// =============================================================================
// PROVIDER TIMEOUT
// =============================================================================

// stallingProvider blocks every call until its context ends.
type stallingProvider struct{}

func (stallingProvider) CreateSession(ctx context.Context, _ market.SessionRequest) (market.ProviderSession, error) {
	<-ctx.Done()
	return market.ProviderSession{}, ctx.Err()
}

func (stallingProvider) RetrieveSession(ctx context.Context, _ string) (market.SessionStatus, error) {
	<-ctx.Done()
	return market.SessionStatus{}, ctx.Err()
}

func TestLedger_ProviderTimeout(t *testing.T) {
	// GIVEN: A provider that never answers and a short provider timeout
	// WHEN: Checkout begins
	// THEN: The call gives up with an upstream error instead of hanging

	mem := store.NewMemory()
	ctx := context.Background()
	ledger := market.NewLedger(mem, stallingProvider{}, market.LedgerConfig{
		FrontendURL:     "http://shop.test",
		ProviderTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, mem.CreateUser(ctx, &market.User{ID: "u1", Email: "u1@example.com", Active: true}))
	require.NoError(t, mem.CreateBook(ctx, &market.Book{ID: "b1", Title: "B", Price: market.NewMoney(100, "usd")}))

	_, err := ledger.BeginCheckout(ctx, "u1", "b1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var de *market.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, market.KindUpstream, de.Kind)
}
