/*
store.go - Persistence interfaces

PURPOSE:
  The marketplace is storage-agnostic. These interfaces are implemented by
  the in-memory store (market/store), SQLite (store/sqlite), Postgres
  (store/postgres) and MongoDB (store/mongo).

CONTRACT:
  - Get* methods return the package sentinel (ErrUserNotFound, ...) for a
    missing record, never (nil, nil).
  - Returned records are copies; mutating them does not touch the store.
  - TransitionStatus is a conditional write: it succeeds only while the
    transaction is pending and returns ErrNotPending otherwise.
  - GrantEntitlement is add-if-absent on both the user's PurchasedBooks and
    the book's PurchasedBy. Calling it twice is a no-op.
  - Transaction listings are ordered newest first.

SEE ALSO:
  - ledger.go: The only writer of transaction state
  - errors.go: Sentinel errors
*/
package market

import (
	"context"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	// CreateUser inserts u. Fails with ErrDuplicateEmail on a taken address.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUserByResetToken finds the user whose reset hash matches and has
	// not expired at now.
	GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)
	// UpdateUser overwrites the mutable profile fields. The purchased set
	// is owned by GrantEntitlement and left untouched.
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)
}

// BookStore persists the catalog.
type BookStore interface {
	CreateBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id string) (*Book, error)
	// UpdateBook overwrites the catalog fields. PurchasedBy is left untouched.
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, id string) error
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)
}

// TransactionStore persists purchase attempts.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	// AttachSession sets the provider session id once.
	AttachSession(ctx context.Context, txID, sessionID string, at time.Time) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	FindBySession(ctx context.Context, sessionID string) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	// TransitionStatus moves a pending transaction to a terminal status and
	// returns the updated record. paymentIntentID is stored when non-empty.
	TransitionStatus(ctx context.Context, id string, to Status, paymentIntentID string, at time.Time) (*Transaction, error)
}

// EntitlementStore records who owns what.
type EntitlementStore interface {
	GrantEntitlement(ctx context.Context, buyerID, bookID string) error
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	BookStore
	TransactionStore
	EntitlementStore
}

// Resetter is implemented by stores that can wipe all data (dev only).
type Resetter interface {
	Reset(ctx context.Context) error
}
