package mongo

import (
	"time"

	"github.com/warp/bookstore/market"
)

// ==================== User models ====================

type userModel struct {
	ID             string     `bson:"_id"`
	Email          string     `bson:"email"`
	PasswordHash   string     `bson:"password_hash"`
	Name           string     `bson:"name"`
	Role           string     `bson:"role"`
	Active         bool       `bson:"active"`
	Avatar         string     `bson:"avatar"`
	CustomerRef    string     `bson:"customer_ref"`
	LastLogin      *time.Time `bson:"last_login"`
	ResetTokenHash string     `bson:"reset_token_hash"`
	ResetExpires   *time.Time `bson:"reset_expires"`
	PurchasedBooks []string   `bson:"purchased_books"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toUserModel(u *market.User) *userModel {
	return &userModel{
		ID:             u.ID,
		Email:          market.NormalizeEmail(u.Email),
		PasswordHash:   u.PasswordHash,
		Name:           u.Name,
		Role:           string(u.Role),
		Active:         u.Active,
		Avatar:         u.Avatar,
		CustomerRef:    u.CustomerRef,
		LastLogin:      u.LastLogin,
		ResetTokenHash: u.ResetTokenHash,
		ResetExpires:   u.ResetExpires,
		PurchasedBooks: nonNil(u.PurchasedBooks),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func fromUserModel(m *userModel) *market.User {
	return &market.User{
		ID:             m.ID,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		Name:           m.Name,
		Role:           market.Role(m.Role),
		Active:         m.Active,
		Avatar:         m.Avatar,
		CustomerRef:    m.CustomerRef,
		LastLogin:      m.LastLogin,
		ResetTokenHash: m.ResetTokenHash,
		ResetExpires:   m.ResetExpires,
		PurchasedBooks: nonNil(m.PurchasedBooks),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ==================== Book models ====================

type bookModel struct {
	ID            string    `bson:"_id"`
	Title         string    `bson:"title"`
	Author        string    `bson:"author"`
	Description   string    `bson:"description"`
	PriceAmount   int64     `bson:"price_amount"`
	PriceCurrency string    `bson:"price_currency"`
	CoverURL      string    `bson:"cover_url"`
	ContentURL    string    `bson:"content_url"`
	Category      string    `bson:"category"`
	SellerID      string    `bson:"seller_id"`
	PurchasedBy   []string  `bson:"purchased_by"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toBookModel(b *market.Book) *bookModel {
	return &bookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		PriceAmount:   b.Price.Amount,
		PriceCurrency: b.Price.Currency,
		CoverURL:      b.CoverURL,
		ContentURL:    b.ContentURL,
		Category:      b.Category,
		SellerID:      b.SellerID,
		PurchasedBy:   nonNil(b.PurchasedBy),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func fromBookModel(m *bookModel) *market.Book {
	return &market.Book{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Description: m.Description,
		Price:       market.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		CoverURL:    m.CoverURL,
		ContentURL:  m.ContentURL,
		Category:    m.Category,
		SellerID:    m.SellerID,
		PurchasedBy: nonNil(m.PurchasedBy),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ==================== Transaction models ====================

// SessionID and PaymentIntentID are omitted while empty so the partial
// unique index on session_id only covers attached sessions.
type transactionModel struct {
	ID              string    `bson:"_id"`
	BuyerID         string    `bson:"buyer_id"`
	BookID          string    `bson:"book_id"`
	Amount          int64     `bson:"amount"`
	Currency        string    `bson:"currency"`
	Status          string    `bson:"status"`
	PaymentMethod   string    `bson:"payment_method"`
	SessionID       string    `bson:"session_id,omitempty"`
	PaymentIntentID string    `bson:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func toTransactionModel(tx *market.Transaction) *transactionModel {
	return &transactionModel{
		ID:              tx.ID,
		BuyerID:         tx.BuyerID,
		BookID:          tx.BookID,
		Amount:          tx.Amount.Amount,
		Currency:        tx.Amount.Currency,
		Status:          string(tx.Status),
		PaymentMethod:   tx.PaymentMethod,
		SessionID:       tx.SessionID,
		PaymentIntentID: tx.PaymentIntentID,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) *market.Transaction {
	return &market.Transaction{
		ID:              m.ID,
		BuyerID:         m.BuyerID,
		BookID:          m.BookID,
		Amount:          market.Money{Amount: m.Amount, Currency: m.Currency},
		Status:          market.Status(m.Status),
		PaymentMethod:   m.PaymentMethod,
		SessionID:       m.SessionID,
		PaymentIntentID: m.PaymentIntentID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// $addToSet fails on a null field, so sets are always stored as arrays.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
