package market

import (
	"context"
	"time"
)

// CheckoutProvider is a hosted checkout service. Implementations live in
// payment/stripe and payment/sandbox.
type CheckoutProvider interface {
	// CreateSession opens a hosted payment page for one item.
	CreateSession(ctx context.Context, req SessionRequest) (ProviderSession, error)
	// RetrieveSession reports the payment state of a session.
	RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error)
}

// SessionRequest is what the ledger asks the provider to charge.
type SessionRequest struct {
	Amount      Money
	Name        string
	Description string
	SuccessURL  string
	CancelURL   string
	// ExpiresAt closes the session so it cannot be paid after the ledger
	// has expired the transaction. Zero leaves the provider default.
	ExpiresAt time.Time
	// Metadata carries transaction_id, book_id and user_id so the
	// provider dashboard links back to the ledger.
	Metadata map[string]string
}

// ProviderSession is a created checkout session.
type ProviderSession struct {
	ID  string
	URL string
}

// SessionStatus is the provider's view of a session.
type SessionStatus struct {
	Paid            bool
	PaymentStatus   string // provider's raw status, for logs
	PaymentIntentID string
}

// SessionEvent is an asynchronous notification about a session.
type SessionEvent struct {
	ID        string // provider event id, for logs
	Type      string
	SessionID string
	Status    SessionStatus
}

// WebhookParser verifies and decodes provider event deliveries.
type WebhookParser interface {
	// SignatureHeader names the request header carrying the signature.
	SignatureHeader() string
	// ParseEvent verifies payload against signature. It returns (nil, nil)
	// for event types that carry no final payment outcome.
	ParseEvent(payload []byte, signature string) (*SessionEvent, error)
}

// Metadata keys attached to every provider session.
const (
	MetaTransactionID = "transaction_id"
	MetaBookID        = "book_id"
	MetaUserID        = "user_id"
)
