// Package store provides the in-memory market.Store used by tests and
// the "memory" store driver.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/bookstore/market"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	users        map[string]*market.User
	emails       map[string]string // normalized email -> user id
	books        map[string]*market.Book
	transactions map[string]*market.Transaction
	sessions     map[string]string // session id -> transaction id
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

// Reset drops all records.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) resetLocked() {
	m.users = make(map[string]*market.User)
	m.emails = make(map[string]string)
	m.books = make(map[string]*market.Book)
	m.transactions = make(map[string]*market.Transaction)
	m.sessions = make(map[string]string)
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u *market.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := market.NormalizeEmail(u.Email)
	if _, taken := m.emails[email]; taken {
		return market.ErrDuplicateEmail
	}
	c := cloneUser(u)
	c.Email = email
	m.users[c.ID] = c
	m.emails[email] = c.ID
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, market.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[market.NormalizeEmail(email)]
	if !ok {
		return nil, market.ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *Memory) GetUserByResetToken(_ context.Context, tokenHash string, now time.Time) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tokenHash == "" {
		return nil, market.ErrUserNotFound
	}
	for _, u := range m.users {
		if u.ResetTokenHash == tokenHash && u.ResetExpires != nil && u.ResetExpires.After(now) {
			return cloneUser(u), nil
		}
	}
	return nil, market.ErrUserNotFound
}

func (m *Memory) UpdateUser(_ context.Context, u *market.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return market.ErrUserNotFound
	}
	email := market.NormalizeEmail(u.Email)
	if owner, taken := m.emails[email]; taken && owner != u.ID {
		return market.ErrDuplicateEmail
	}

	c := cloneUser(u)
	c.Email = email
	c.PurchasedBooks = existing.PurchasedBooks
	delete(m.emails, existing.Email)
	m.emails[email] = c.ID
	m.users[c.ID] = c
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return market.ErrUserNotFound
	}
	delete(m.emails, u.Email)
	delete(m.users, id)
	for _, b := range m.books {
		b.PurchasedBy = slices.DeleteFunc(b.PurchasedBy, func(v string) bool { return v == id })
	}
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]market.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, *cloneUser(u))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// BOOKS
// =============================================================================

func (m *Memory) CreateBook(_ context.Context, b *market.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = cloneBook(b)
	return nil
}

func (m *Memory) GetBook(_ context.Context, id string) (*market.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[id]
	if !ok {
		return nil, market.ErrBookNotFound
	}
	return cloneBook(b), nil
}

func (m *Memory) UpdateBook(_ context.Context, b *market.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.books[b.ID]
	if !ok {
		return market.ErrBookNotFound
	}
	c := cloneBook(b)
	c.PurchasedBy = existing.PurchasedBy
	m.books[c.ID] = c
	return nil
}

func (m *Memory) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return market.ErrBookNotFound
	}
	delete(m.books, id)
	for _, u := range m.users {
		u.PurchasedBooks = slices.DeleteFunc(u.PurchasedBooks, func(v string) bool { return v == id })
	}
	return nil
}

func (m *Memory) ListBooks(_ context.Context, f market.BookFilter) ([]market.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []market.Book{}
	for _, b := range m.books {
		if f.Matches(b) {
			result = append(result, *cloneBook(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) CreateTransaction(_ context.Context, tx *market.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *tx
	m.transactions[c.ID] = &c
	if c.SessionID != "" {
		m.sessions[c.SessionID] = c.ID
	}
	return nil
}

func (m *Memory) AttachSession(_ context.Context, txID, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[txID]
	if !ok {
		return market.ErrTransactionNotFound
	}
	if tx.SessionID != "" {
		return market.ErrSessionAlreadyAttached
	}
	tx.SessionID = sessionID
	tx.UpdatedAt = at
	m.sessions[sessionID] = txID
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*market.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, market.ErrTransactionNotFound
	}
	c := *tx
	return &c, nil
}

func (m *Memory) FindBySession(_ context.Context, sessionID string) (*market.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.sessions[sessionID]
	if !ok {
		return nil, market.ErrTransactionNotFound
	}
	c := *m.transactions[id]
	return &c, nil
}

func (m *Memory) ListTransactions(_ context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []market.Transaction{}
	for _, tx := range m.transactions {
		if f.Matches(tx) {
			result = append(result, *tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) TransitionStatus(_ context.Context, id string, to market.Status, paymentIntentID string, at time.Time) (*market.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, market.ErrTransactionNotFound
	}
	if tx.Status != market.StatusPending {
		return nil, market.ErrNotPending
	}
	tx.Status = to
	if paymentIntentID != "" {
		tx.PaymentIntentID = paymentIntentID
	}
	tx.UpdatedAt = at
	c := *tx
	return &c, nil
}

// =============================================================================
// ENTITLEMENT
// =============================================================================

func (m *Memory) GrantEntitlement(_ context.Context, buyerID, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[buyerID]
	if !ok {
		return market.ErrUserNotFound
	}
	b, ok := m.books[bookID]
	if !ok {
		return market.ErrBookNotFound
	}
	if !slices.Contains(u.PurchasedBooks, bookID) {
		u.PurchasedBooks = append(u.PurchasedBooks, bookID)
	}
	if !slices.Contains(b.PurchasedBy, buyerID) {
		b.PurchasedBy = append(b.PurchasedBy, buyerID)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneUser(u *market.User) *market.User {
	c := *u
	c.PurchasedBooks = slices.Clone(u.PurchasedBooks)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.ResetExpires != nil {
		t := *u.ResetExpires
		c.ResetExpires = &t
	}
	return &c
}

func cloneBook(b *market.Book) *market.Book {
	c := *b
	c.PurchasedBy = slices.Clone(b.PurchasedBy)
	return &c
}

var _ market.Store = (*Memory)(nil)
