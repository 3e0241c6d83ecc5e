/*
ledger.go - Transaction Ledger

PURPOSE:
  Owns the purchase workflow: opens a checkout session for a (buyer, book)
  pair, records the attempt as a pending Transaction, settles it once the
  provider reports an outcome, and grants the buyer the book on success.

CRITICAL INVARIANTS:
  1. SNAPSHOT: Transaction.Amount is the book price at BeginCheckout time
  2. WRITE-ONCE SESSION: the session id is attached before any caller sees
     the record and never changes afterwards
  3. ONE WINNER: pending -> terminal is a conditional store write, so
     concurrent confirmations cannot both transition the record
  4. ENTITLEMENT IFF COMPLETED: the grant is add-if-absent on both sides
     and runs for every observer of a completed record, which also heals a
     grant interrupted after the status write
  5. OWNERSHIP: buyer-scoped reads of another buyer's record are NotFound
  6. PROVIDER FIRST: the sweeper only expires sessions the provider does
     not report as paid, and sessions are opened with an expiry no later
     than the sweep cutoff

CONCURRENCY:
  The Ledger holds no locks. All coordination happens in the store's
  conditional update and idempotent grant.

SEE ALSO:
  - store.go: Conditional update and grant contracts
  - provider.go: Checkout provider contract
  - api/checkout_handlers.go: HTTP surface
*/
package market

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// LedgerConfig holds the ledger's static settings.
type LedgerConfig struct {
	// FrontendURL is where the provider sends the buyer back to.
	FrontendURL string
	// PaymentMethod is recorded on every transaction ("stripe", "sandbox").
	PaymentMethod string
	// SessionTTL bounds how long a provider session stays payable. It
	// should match the sweeper's pending TTL. Zero keeps the provider default.
	SessionTTL time.Duration
	// ProviderTimeout bounds each provider call. Zero means no extra bound.
	ProviderTimeout time.Duration
	Logger          *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Ledger drives purchases from checkout to entitlement.
type Ledger struct {
	store    Store
	provider CheckoutProvider
	cfg      LedgerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// CheckoutSession is returned to the buyer after BeginCheckout.
type CheckoutSession struct {
	TransactionID string
	SessionID     string
	RedirectURL   string
}

// NewLedger creates a ledger over store and provider.
func NewLedger(store Store, provider CheckoutProvider, cfg LedgerConfig) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "stripe"
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Ledger{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "ledger"),
		now:      now,
	}
}

// =============================================================================
// CHECKOUT
// =============================================================================

// BeginCheckout creates a pending transaction for buyerID purchasing
// bookID and opens a provider session for it.
//
// On provider failure the transaction stays pending without a session id
// and the error is KindUpstream.
func (l *Ledger) BeginCheckout(ctx context.Context, buyerID, bookID string) (*CheckoutSession, error) {
	buyer, err := l.store.GetUser(ctx, buyerID)
	if err != nil {
		return nil, wrapLookup(err, ErrUserNotFound, "buyer_not_found", "Buyer not found")
	}
	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, wrapLookup(err, ErrBookNotFound, "book_not_found", "Book not found")
	}

	now := l.now()
	tx := &Transaction{
		ID:            NewID(PrefixTransaction),
		BuyerID:       buyer.ID,
		BookID:        book.ID,
		Amount:        book.Price,
		Status:        StatusPending,
		PaymentMethod: l.cfg.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.store.CreateTransaction(ctx, tx); err != nil {
		return nil, Internal("transaction_create_failed", "Failed to record transaction", err)
	}

	req := SessionRequest{
		Amount:      tx.Amount,
		Name:        book.Title,
		Description: book.Description,
		SuccessURL:  l.cfg.FrontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   l.cfg.FrontendURL + "/payment/cancel",
		Metadata: map[string]string{
			MetaTransactionID: tx.ID,
			MetaBookID:        book.ID,
			MetaUserID:        buyer.ID,
		},
	}
	if l.cfg.SessionTTL > 0 {
		req.ExpiresAt = now.Add(l.cfg.SessionTTL)
	}

	pctx, cancel := l.providerContext(ctx)
	sess, err := l.provider.CreateSession(pctx, req)
	cancel()
	if err != nil {
		l.logger.ErrorContext(ctx, "checkout session failed",
			"transaction_id", tx.ID, "book_id", book.ID, "error", err)
		return nil, Upstream("provider_unavailable", "Failed to create checkout session", err)
	}

	if err := l.store.AttachSession(ctx, tx.ID, sess.ID, l.now()); err != nil {
		return nil, Internal("session_attach_failed", "Failed to record checkout session", err)
	}

	l.logger.InfoContext(ctx, "checkout started",
		"transaction_id", tx.ID, "session_id", sess.ID, "amount", tx.Amount.String())

	return &CheckoutSession{
		TransactionID: tx.ID,
		SessionID:     sess.ID,
		RedirectURL:   sess.URL,
	}, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// ConfirmPayment settles the buyer's transaction for sessionID using the
// provider's current view of the session. A failed payment is returned as
// a transaction in StatusFailed, not as an error.
//
// A transaction that is already terminal is returned unchanged without
// contacting the provider.
func (l *Ledger) ConfirmPayment(ctx context.Context, buyerID, sessionID string) (*Transaction, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, Validation("session_id_required", "Session ID is required")
	}

	tx, err := l.store.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, wrapLookup(err, ErrTransactionNotFound, "transaction_not_found", "Transaction not found")
	}
	if tx.BuyerID != buyerID {
		return nil, NotFound("transaction_not_found", "Transaction not found", ErrTransactionNotFound)
	}

	if tx.Status.IsTerminal() {
		if err := l.ensureEntitlement(ctx, tx); err != nil {
			return nil, err
		}
		return tx, nil
	}

	status, err := l.retrieve(ctx, sessionID)
	if err != nil {
		l.logger.ErrorContext(ctx, "session retrieval failed",
			"transaction_id", tx.ID, "session_id", sessionID, "error", err)
		return nil, Upstream("provider_unavailable", "Failed to retrieve checkout session", err)
	}

	return l.settle(ctx, tx, status)
}

// HandleSessionEvent settles a transaction from an asynchronous provider
// notification. The buyer is taken from the stored record.
func (l *Ledger) HandleSessionEvent(ctx context.Context, ev SessionEvent) (*Transaction, error) {
	if ev.SessionID == "" {
		return nil, Validation("session_id_required", "Event carries no session id")
	}

	tx, err := l.store.FindBySession(ctx, ev.SessionID)
	if err != nil {
		return nil, wrapLookup(err, ErrTransactionNotFound, "transaction_not_found", "Transaction not found")
	}

	if tx.Status.IsTerminal() {
		if err := l.ensureEntitlement(ctx, tx); err != nil {
			return nil, err
		}
		return tx, nil
	}

	return l.settle(ctx, tx, ev.Status)
}

// settle applies the provider outcome to a pending transaction.
func (l *Ledger) settle(ctx context.Context, tx *Transaction, status SessionStatus) (*Transaction, error) {
	to := StatusFailed
	intent := ""
	if status.Paid {
		to = StatusCompleted
		intent = status.PaymentIntentID
	}

	updated, err := l.store.TransitionStatus(ctx, tx.ID, to, intent, l.now())
	switch {
	case errors.Is(err, ErrNotPending):
		// Another confirmation, the webhook, or the sweeper got there first.
		updated, err = l.store.GetTransaction(ctx, tx.ID)
		if err != nil {
			return nil, Internal("transaction_reload_failed", "Failed to reload transaction", err)
		}
	case err != nil:
		return nil, Internal("transaction_update_failed", "Failed to update transaction", err)
	default:
		l.logger.InfoContext(ctx, "transaction settled",
			"transaction_id", updated.ID, "status", string(updated.Status),
			"provider_status", status.PaymentStatus)
	}

	if err := l.ensureEntitlement(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ensureEntitlement grants the book for completed transactions. The grant
// is add-if-absent so repeated calls are harmless.
func (l *Ledger) ensureEntitlement(ctx context.Context, tx *Transaction) error {
	if tx.Status != StatusCompleted {
		return nil
	}
	err := l.store.GrantEntitlement(ctx, tx.BuyerID, tx.BookID)
	if errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrUserNotFound) {
		// Book or buyer was deleted after checkout. The payment stands.
		l.logger.WarnContext(ctx, "entitlement skipped, record deleted",
			"transaction_id", tx.ID, "buyer_id", tx.BuyerID, "book_id", tx.BookID, "error", err)
		return nil
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "entitlement grant failed",
			"transaction_id", tx.ID, "buyer_id", tx.BuyerID, "book_id", tx.BookID, "error", err)
		return Internal("entitlement_failed", "Failed to grant entitlement", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListForBuyer returns the buyer's transactions newest first, each joined
// with its book.
func (l *Ledger) ListForBuyer(ctx context.Context, buyerID string) ([]TransactionView, error) {
	txs, err := l.store.ListTransactions(ctx, TransactionFilter{BuyerID: buyerID})
	if err != nil {
		return nil, Internal("transaction_list_failed", "Failed to list transactions", err)
	}
	return l.join(ctx, txs, false)
}

// GetByID returns one of the buyer's transactions. A transaction owned by
// someone else is reported as not found.
func (l *Ledger) GetByID(ctx context.Context, buyerID, txID string) (*TransactionView, error) {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, wrapLookup(err, ErrTransactionNotFound, "transaction_not_found", "Transaction not found")
	}
	if tx.BuyerID != buyerID {
		return nil, NotFound("transaction_not_found", "Transaction not found", ErrTransactionNotFound)
	}
	views, err := l.join(ctx, []Transaction{*tx}, false)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListAll returns every transaction newest first, joined with book and buyer.
func (l *Ledger) ListAll(ctx context.Context) ([]TransactionView, error) {
	txs, err := l.store.ListTransactions(ctx, TransactionFilter{})
	if err != nil {
		return nil, Internal("transaction_list_failed", "Failed to list transactions", err)
	}
	return l.join(ctx, txs, true)
}

// Get returns any transaction joined with book and buyer.
func (l *Ledger) Get(ctx context.Context, txID string) (*TransactionView, error) {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, wrapLookup(err, ErrTransactionNotFound, "transaction_not_found", "Transaction not found")
	}
	views, err := l.join(ctx, []Transaction{*tx}, true)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// join attaches book (and optionally buyer) summaries. Deleted books and
// users leave the summary nil.
func (l *Ledger) join(ctx context.Context, txs []Transaction, withBuyer bool) ([]TransactionView, error) {
	books := make(map[string]*BookSummary)
	buyers := make(map[string]*BuyerSummary)
	views := make([]TransactionView, len(txs))

	for i, tx := range txs {
		views[i].Transaction = tx

		summary, seen := books[tx.BookID]
		if !seen {
			b, err := l.store.GetBook(ctx, tx.BookID)
			switch {
			case errors.Is(err, ErrBookNotFound):
			case err != nil:
				return nil, Internal("book_lookup_failed", "Failed to load book", err)
			default:
				summary = &BookSummary{ID: b.ID, Title: b.Title, Author: b.Author, Price: b.Price}
			}
			books[tx.BookID] = summary
		}
		views[i].Book = summary

		if !withBuyer {
			continue
		}
		buyer, seen := buyers[tx.BuyerID]
		if !seen {
			u, err := l.store.GetUser(ctx, tx.BuyerID)
			switch {
			case errors.Is(err, ErrUserNotFound):
			case err != nil:
				return nil, Internal("user_lookup_failed", "Failed to load buyer", err)
			default:
				buyer = &BuyerSummary{ID: u.ID, Name: u.Name, Email: u.Email}
			}
			buyers[tx.BuyerID] = buyer
		}
		views[i].Buyer = buyer
	}
	return views, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// ExpireAbandoned moves pending transactions created before cutoff to
// StatusExpired and returns how many it moved. Each session is checked
// with the provider first: paid sessions are settled instead, and rows the
// provider cannot answer for stay pending until the next sweep. Rows that
// settle concurrently are skipped.
func (l *Ledger) ExpireAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := l.store.ListTransactions(ctx, TransactionFilter{
		Status:        StatusPending,
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, Internal("transaction_list_failed", "Failed to list pending transactions", err)
	}

	expired := 0
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if tx.SessionID != "" {
			status, err := l.retrieve(ctx, tx.SessionID)
			switch {
			case errors.Is(err, ErrUnknownSession):
			case err != nil:
				l.logger.WarnContext(ctx, "expiry deferred, session retrieval failed",
					"transaction_id", tx.ID, "session_id", tx.SessionID, "error", err)
				continue
			case status.Paid:
				if _, err := l.settle(ctx, &tx, status); err != nil {
					return expired, err
				}
				continue
			}
		}
		_, err := l.store.TransitionStatus(ctx, tx.ID, StatusExpired, "", l.now())
		switch {
		case errors.Is(err, ErrNotPending):
			continue
		case err != nil:
			return expired, Internal("transaction_update_failed", "Failed to expire transaction", err)
		}
		expired++
		l.logger.InfoContext(ctx, "transaction expired",
			"transaction_id", tx.ID, "created_at", tx.CreatedAt)
	}
	return expired, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// providerContext applies ProviderTimeout to ctx.
func (l *Ledger) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.ProviderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.cfg.ProviderTimeout)
}

func (l *Ledger) retrieve(ctx context.Context, sessionID string) (SessionStatus, error) {
	pctx, cancel := l.providerContext(ctx)
	defer cancel()
	return l.provider.RetrieveSession(pctx, sessionID)
}

// wrapLookup converts a store lookup error into a domain error.
func wrapLookup(err, sentinel error, reason, message string) error {
	if errors.Is(err, sentinel) {
		return NotFound(reason, message, err)
	}
	return Internal("store_error", "Failed to load record", err)
}
