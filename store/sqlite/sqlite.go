/*
Package sqlite provides a SQLite-backed implementation of market.Store.

PURPOSE:
  Persists users, books, purchase transactions and entitlements in a
  single SQLite file. This is the default store for local runs and the
  store most tests use (":memory:").

KEY TABLES:
  users:          Accounts; email is unique and stored normalized
  books:          Catalog entries; price kept as integer minor units
  book_purchases: Entitlement set, one row per (user, book)
  transactions:   Purchase attempts; session_id unique once set

STATE TRANSITIONS:
  The only UPDATE on transactions.status is conditional on
  status = 'pending', so a transaction leaves pending exactly once even
  when confirmations race. Entitlement is INSERT OR IGNORE on the
  book_purchases primary key, so the user and book sides cannot diverge
  or duplicate.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. An in-memory database is pinned to
  a single connection, since every new connection to ":memory:" would
  see an empty database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order.

USAGE:
  store, err := sqlite.New("./data/bookstore.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - market/store.go: Interface definitions
  - market/store/memory.go: In-memory implementation
  - store/postgres, store/mongo: Other backends with the same contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/bookstore/market"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements market.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		avatar TEXT NOT NULL DEFAULT '',
		customer_ref TEXT NOT NULL DEFAULT '',
		last_login TEXT,
		reset_token_hash TEXT,
		reset_expires TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_reset_token
		ON users(reset_token_hash) WHERE reset_token_hash IS NOT NULL;

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL,
		price_amount INTEGER NOT NULL CHECK (price_amount >= 0),
		price_currency TEXT NOT NULL,
		cover_url TEXT NOT NULL DEFAULT '',
		content_url TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_seller ON books(seller_id);
	CREATE INDEX IF NOT EXISTS idx_books_category ON books(category);

	-- Entitlement: the primary key makes add-to-set idempotent
	CREATE TABLE IF NOT EXISTS book_purchases (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, book_id)
	);

	CREATE INDEX IF NOT EXISTS idx_book_purchases_book ON book_purchases(book_id);

	-- No foreign keys: transactions outlive deleted users and books
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed', 'expired')),
		payment_method TEXT NOT NULL,
		session_id TEXT UNIQUE,
		payment_intent_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_buyer_created
		ON transactions(buyer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status_created
		ON transactions(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, email, password_hash, name, role, active, avatar, customer_ref,
	last_login, reset_token_hash, reset_expires, created_at, updated_at`

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *market.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, market.NormalizeEmail(u.Email), u.PasswordHash, u.Name, string(u.Role),
		u.Active, u.Avatar, u.CustomerRef,
		nullTime(u.LastLogin), nullString(u.ResetTokenHash), nullTime(u.ResetExpires),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return market.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetUserByEmail retrieves a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", market.NormalizeEmail(email))
}

// GetUserByResetToken finds the user holding an unexpired reset token.
func (s *Store) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE reset_token_hash = ? AND reset_expires > ?",
		tokenHash, formatTime(now),
	)
}

// UpdateUser overwrites profile fields.
func (s *Store) UpdateUser(ctx context.Context, u *market.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE users SET
			email = ?, password_hash = ?, name = ?, role = ?, active = ?, avatar = ?,
			customer_ref = ?, last_login = ?, reset_token_hash = ?, reset_expires = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		market.NormalizeEmail(u.Email), u.PasswordHash, u.Name, string(u.Role), u.Active, u.Avatar,
		u.CustomerRef, nullTime(u.LastLogin), nullString(u.ResetTokenHash), nullTime(u.ResetExpires),
		formatTime(u.UpdatedAt), u.ID,
	)
	if isUniqueConstraintError(err) {
		return market.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res, market.ErrUserNotFound)
}

// DeleteUser removes a user and their entitlements.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, market.ErrUserNotFound)
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	users := []market.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, *u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		if users[i].PurchasedBooks, err = s.purchasedBooks(ctx, users[i].ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*market.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.PurchasedBooks, err = s.purchasedBooks(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row scanner) (*market.User, error) {
	var u market.User
	var role, createdAt, updatedAt string
	var lastLogin, resetHash, resetExpires sql.NullString

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &u.Active, &u.Avatar,
		&u.CustomerRef, &lastLogin, &resetHash, &resetExpires, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.Role = market.Role(role)
	u.LastLogin = parseNullTime(lastLogin)
	u.ResetTokenHash = resetHash.String
	u.ResetExpires = parseNullTime(resetExpires)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *Store) purchasedBooks(ctx context.Context, userID string) ([]string, error) {
	return s.queryIDs(ctx,
		"SELECT book_id FROM book_purchases WHERE user_id = ? ORDER BY created_at, rowid", userID)
}

// =============================================================================
// BOOK STORE
// =============================================================================

const bookColumns = `id, title, author, description, price_amount, price_currency,
	cover_url, content_url, category, seller_id, created_at, updated_at`

// CreateBook inserts a catalog entry.
func (s *Store) CreateBook(ctx context.Context, b *market.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO books (` + bookColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Title, b.Author, b.Description, b.Price.Amount, b.Price.Currency,
		b.CoverURL, b.ContentURL, b.Category, b.SellerID,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*market.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := scanBook(s.db.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.PurchasedBy, err = s.purchasers(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBook overwrites catalog fields.
func (s *Store) UpdateBook(ctx context.Context, b *market.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE books SET
			title = ?, author = ?, description = ?, price_amount = ?, price_currency = ?,
			cover_url = ?, content_url = ?, category = ?, seller_id = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		b.Title, b.Author, b.Description, b.Price.Amount, b.Price.Currency,
		b.CoverURL, b.ContentURL, b.Category, b.SellerID, formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return requireAffected(res, market.ErrBookNotFound)
}

// DeleteBook removes a book and its entitlements.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM books WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return requireAffected(res, market.ErrBookNotFound)
}

// ListBooks returns books matching f, newest first.
func (s *Store) ListBooks(ctx context.Context, f market.BookFilter) ([]market.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Author != "" {
		where = append(where, "author = ?")
		args = append(args, f.Author)
	}
	if f.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}
	if f.MinPrice != nil {
		where = append(where, "price_amount >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		where = append(where, "price_amount <= ?")
		args = append(args, *f.MaxPrice)
	}

	query := "SELECT " + bookColumns + " FROM books"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	books := []market.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		books = append(books, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range books {
		if books[i].PurchasedBy, err = s.purchasers(ctx, books[i].ID); err != nil {
			return nil, err
		}
	}
	return books, nil
}

func scanBook(row scanner) (*market.Book, error) {
	var b market.Book
	var createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.Price.Amount, &b.Price.Currency,
		&b.CoverURL, &b.ContentURL, &b.Category, &b.SellerID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *Store) purchasers(ctx context.Context, bookID string) ([]string, error) {
	return s.queryIDs(ctx,
		"SELECT user_id FROM book_purchases WHERE book_id = ? ORDER BY created_at, rowid", bookID)
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const txColumns = `id, buyer_id, book_id, amount, currency, status, payment_method,
	session_id, payment_intent_id, created_at, updated_at`

// CreateTransaction inserts a purchase attempt.
func (s *Store) CreateTransaction(ctx context.Context, tx *market.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO transactions (` + txColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.BuyerID, tx.BookID, tx.Amount.Amount, tx.Amount.Currency, string(tx.Status),
		tx.PaymentMethod, nullString(tx.SessionID), nullString(tx.PaymentIntentID),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// AttachSession sets the provider session id if none is set yet.
func (s *Store) AttachSession(ctx context.Context, txID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET session_id = ?, updated_at = ? WHERE id = ? AND session_id IS NULL",
		sessionID, formatTime(at), txID,
	)
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return s.missingOr(ctx, txID, market.ErrSessionAlreadyAttached)
}

// GetTransaction retrieves a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*market.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransaction(ctx, "id", id)
}

// FindBySession retrieves the transaction holding a provider session id.
func (s *Store) FindBySession(ctx context.Context, sessionID string) (*market.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransaction(ctx, "session_id", sessionID)
}

// ListTransactions returns transactions matching f, newest first.
func (s *Store) ListTransactions(ctx context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.BuyerID != "" {
		where = append(where, "buyer_id = ?")
		args = append(args, f.BuyerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*f.CreatedBefore))
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []market.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// TransitionStatus moves a pending transaction to a terminal status.
func (s *Store) TransitionStatus(ctx context.Context, id string, to market.Status, paymentIntentID string, at time.Time) (*market.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE transactions SET
			status = ?,
			payment_intent_id = COALESCE(?, payment_intent_id),
			updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	res, err := s.db.ExecContext(ctx, query, string(to), nullString(paymentIntentID), formatTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("transition transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, s.missingOr(ctx, id, market.ErrNotPending)
	}
	return s.getTransaction(ctx, "id", id)
}

func (s *Store) getTransaction(ctx context.Context, column, value string) (*market.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrTransactionNotFound
	}
	return tx, err
}

// missingOr distinguishes a missing transaction from a failed condition.
func (s *Store) missingOr(ctx context.Context, id string, conditionErr error) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM transactions WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return market.ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	return conditionErr
}

func scanTransaction(row scanner) (*market.Transaction, error) {
	var tx market.Transaction
	var status, createdAt, updatedAt string
	var sessionID, intentID sql.NullString

	err := row.Scan(&tx.ID, &tx.BuyerID, &tx.BookID, &tx.Amount.Amount, &tx.Amount.Currency, &status,
		&tx.PaymentMethod, &sessionID, &intentID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	tx.Status = market.Status(status)
	tx.SessionID = sessionID.String
	tx.PaymentIntentID = intentID.String
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return &tx, nil
}

// =============================================================================
// ENTITLEMENT STORE
// =============================================================================

// GrantEntitlement records that buyerID owns bookID. Repeated grants are no-ops.
func (s *Store) GrantEntitlement(ctx context.Context, buyerID, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO book_purchases (user_id, book_id, created_at) VALUES (?, ?, ?)",
		buyerID, bookID, formatTime(time.Now()),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("grant entitlement %s/%s: %w", buyerID, bookID, market.ErrBookNotFound)
	}
	if err != nil {
		return fmt.Errorf("grant entitlement: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"book_purchases", "transactions", "books", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

var (
	_ market.Store    = (*Store)(nil)
	_ market.Resetter = (*Store)(nil)
)
