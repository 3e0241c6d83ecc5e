/*
Package market provides the core of the e-book marketplace.

PURPOSE:
  This package holds the domain records (users, books, purchase
  transactions) and the Transaction Ledger that drives a purchase from
  checkout session creation to completion or failure. Storage, payment
  rails and transport live in other packages and plug in through the
  interfaces declared in store.go and provider.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: an identity that can buy books (role user) or sell them (role admin)
  - Book: a catalog entry with a price snapshot source and a purchaser set
  - Transaction: one purchase attempt, pending until the provider answers
  - Status: the closed set of transaction states

STATE MACHINE:
  pending --paid-->      completed   (entitlement granted)
  pending --not paid-->  failed
  pending --swept-->     expired     (abandoned checkout)

  All three right-hand states are terminal.

SEE ALSO:
  - ledger.go: Transaction Ledger operations
  - store.go: Persistence interfaces
  - money.go: Minor-unit amounts
*/
package market

import (
	"slices"
	"strings"
	"time"
)

// =============================================================================
// USERS
// =============================================================================

// Role distinguishes buyers from sellers.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is an account. PasswordHash is never serialized by the API layer.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	Name           string
	Role           Role
	Active         bool
	Avatar         string
	CustomerRef    string
	LastLogin      *time.Time
	ResetTokenHash string
	ResetExpires   *time.Time
	PurchasedBooks []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// HasPurchased reports whether bookID is in the user's purchased set.
func (u *User) HasPurchased(bookID string) bool {
	return slices.Contains(u.PurchasedBooks, bookID)
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// BOOKS
// =============================================================================

// Book is a catalog entry.
type Book struct {
	ID          string
	Title       string
	Author      string
	Description string
	Price       Money
	CoverURL    string
	ContentURL  string
	Category    string
	SellerID    string
	PurchasedBy []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsEntitled reports whether userID appears in the purchaser set.
func (b *Book) IsEntitled(userID string) bool {
	return slices.Contains(b.PurchasedBy, userID)
}

// CanManage reports whether u may edit or delete the book.
func (b *Book) CanManage(u *User) bool {
	if u == nil {
		return false
	}
	return u.IsAdmin() || b.SellerID == u.ID
}

// CanRead reports whether u may fetch the book's content file.
func (b *Book) CanRead(u *User) bool {
	if u == nil {
		return false
	}
	return b.CanManage(u) || b.IsEntitled(u.ID)
}

// BookFilter narrows a catalog listing. Zero values match everything.
type BookFilter struct {
	Category string
	Author   string
	SellerID string
	MinPrice *int64 // minor units, inclusive
	MaxPrice *int64 // minor units, inclusive
}

// Matches reports whether b satisfies the filter.
func (f BookFilter) Matches(b *Book) bool {
	if f.Category != "" && b.Category != f.Category {
		return false
	}
	if f.Author != "" && b.Author != f.Author {
		return false
	}
	if f.SellerID != "" && b.SellerID != f.SellerID {
		return false
	}
	if f.MinPrice != nil && b.Price.Amount < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && b.Price.Amount > *f.MaxPrice {
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Status is the lifecycle state of a purchase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Transaction is a single purchase attempt. Amount is copied from the
// book's price at creation and never recomputed.
type Transaction struct {
	ID              string
	BuyerID         string
	BookID          string
	Amount          Money
	Status          Status
	PaymentMethod   string
	SessionID       string // empty until the provider session exists
	PaymentIntentID string // empty until confirmed paid
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	BuyerID       string
	Status        Status
	CreatedBefore *time.Time
}

// Matches reports whether tx satisfies the filter.
func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.BuyerID != "" && tx.BuyerID != f.BuyerID {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.CreatedBefore != nil && !tx.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// BookSummary is the slice of a book shown next to a transaction.
type BookSummary struct {
	ID     string
	Title  string
	Author string
	Price  Money
}

// BuyerSummary is the slice of a user shown in admin transaction listings.
type BuyerSummary struct {
	ID    string
	Name  string
	Email string
}

// TransactionView is a transaction joined with its book (and, for admin
// listings, its buyer). Book is nil when the book has since been deleted.
type TransactionView struct {
	Transaction
	Book  *BookSummary
	Buyer *BuyerSummary
}
