/*
dto.go - Data Transfer Objects for API requests/responses

PURPOSE:
  Defines the JSON structures for HTTP API communication. Separates
  API representation from domain models.

CONVENTIONS:
  - JSON field names use camelCase
  - Money goes out as a major-unit number plus a lowercase currency code;
    it is never stored that way
  - Request structs carry validator tags; field errors are reported by
    their JSON name
  - Books never expose their content URL; it is served by GET
    /api/books/{id}/pdf to entitled readers only

SEE ALSO:
  - handlers.go: Uses these DTOs
  - market/types.go: Domain models these map to
*/
package api

import (
	"time"

	"github.com/warp/bookstore/market"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is returned on error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// =============================================================================
// AUTH & USERS
// =============================================================================

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// AuthResponse is returned by register, login and password reset.
type AuthResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Token string `json:"token"`
}

// UpdateProfileRequest fields are optional; empty strings are ignored.
type UpdateProfileRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=50"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Avatar *string `json:"avatar" validate:"omitempty,max=2048"`
}

type AdminUpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=50"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Role     *string `json:"role" validate:"omitempty,oneof=user admin"`
	IsActive *bool   `json:"isActive"`
}

type UserDTO struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	Avatar         string     `json:"avatar,omitempty"`
	IsActive       bool       `json:"isActive"`
	PurchasedBooks []string   `json:"purchasedBooks"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// =============================================================================
// BOOKS
// =============================================================================

// bookForm holds the text fields of a book upload.
type bookForm struct {
	Title       string `json:"title" validate:"required,max=200"`
	Author      string `json:"author" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Price       string `json:"price" validate:"required"`
	Category    string `json:"category" validate:"required,max=100"`
}

type BookDTO struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	CoverImage    string    `json:"coverImage"`
	Category      string    `json:"category"`
	SellerID      string    `json:"sellerId"`
	PurchaseCount int       `json:"purchaseCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ContentURLResponse struct {
	PDFURL string `json:"pdfUrl"`
}

// =============================================================================
// CHECKOUT
// =============================================================================

// CheckoutRequest names the book to buy. bookId is accepted as an alias.
type CheckoutRequest struct {
	ItemID string `json:"itemId"`
	BookID string `json:"bookId"`
}

type CheckoutResponse struct {
	RedirectURL string `json:"redirectUrl"`
	SessionID   string `json:"sessionId"`
}

type ConfirmRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type ConfirmResponse struct {
	Message     string         `json:"message"`
	Transaction TransactionDTO `json:"transaction"`
}

type BookSummaryDTO struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

type BuyerSummaryDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TransactionDTO is a ledger record. Book is null when the book has been
// deleted since the purchase.
type TransactionDTO struct {
	ID              string           `json:"id"`
	BuyerID         string           `json:"buyerId"`
	BookID          string           `json:"bookId"`
	Amount          float64          `json:"amount"`
	Currency        string           `json:"currency"`
	Status          string           `json:"status"`
	PaymentMethod   string           `json:"paymentMethod"`
	SessionID       string           `json:"sessionId,omitempty"`
	PaymentIntentID string           `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Book            *BookSummaryDTO  `json:"book"`
	Buyer           *BuyerSummaryDTO `json:"buyer,omitempty"`
}

// =============================================================================
// DEV
// =============================================================================

type SeedResponse struct {
	Message string    `json:"message"`
	Admin   SeedLogin `json:"admin"`
	Buyer   SeedLogin `json:"buyer"`
	Books   []BookDTO `json:"books"`
}

type SeedLogin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u *market.User) UserDTO {
	purchased := u.PurchasedBooks
	if purchased == nil {
		purchased = []string{}
	}
	return UserDTO{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           string(u.Role),
		Avatar:         u.Avatar,
		IsActive:       u.Active,
		PurchasedBooks: purchased,
		LastLogin:      u.LastLogin,
		CreatedAt:      u.CreatedAt,
	}
}

func toUserDTOs(users []market.User) []UserDTO {
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	return dtos
}

func toBookDTO(b *market.Book) BookDTO {
	return BookDTO{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Price:         b.Price.Float64(),
		Currency:      b.Price.Currency,
		CoverImage:    b.CoverURL,
		Category:      b.Category,
		SellerID:      b.SellerID,
		PurchaseCount: len(b.PurchasedBy),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func toBookDTOs(books []market.Book) []BookDTO {
	dtos := make([]BookDTO, len(books))
	for i := range books {
		dtos[i] = toBookDTO(&books[i])
	}
	return dtos
}

func toTransactionDTO(v *market.TransactionView) TransactionDTO {
	dto := TransactionDTO{
		ID:              v.ID,
		BuyerID:         v.BuyerID,
		BookID:          v.BookID,
		Amount:          v.Amount.Float64(),
		Currency:        v.Amount.Currency,
		Status:          string(v.Status),
		PaymentMethod:   v.PaymentMethod,
		SessionID:       v.SessionID,
		PaymentIntentID: v.PaymentIntentID,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	if v.Book != nil {
		dto.Book = &BookSummaryDTO{
			ID:       v.Book.ID,
			Title:    v.Book.Title,
			Author:   v.Book.Author,
			Price:    v.Book.Price.Float64(),
			Currency: v.Book.Price.Currency,
		}
	}
	if v.Buyer != nil {
		dto.Buyer = &BuyerSummaryDTO{ID: v.Buyer.ID, Name: v.Buyer.Name, Email: v.Buyer.Email}
	}
	return dto
}

func toTransactionDTOs(views []market.TransactionView) []TransactionDTO {
	dtos := make([]TransactionDTO, len(views))
	for i := range views {
		dtos[i] = toTransactionDTO(&views[i])
	}
	return dtos
}
