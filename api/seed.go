/*
seed.go - Demo data for development

PURPOSE:
  Populates an empty store with an admin, a buyer and a small catalog so
  the checkout flow can be exercised by hand against the sandbox
  provider.

HOW SEEDING WORKS:
 1. Reset the store (all users, books, transactions)
 2. Create the admin and the buyer with known passwords
 3. Create three books sold by the admin

USAGE VIA API (dev mode only):

	POST /api/dev/seed
	POST /api/dev/reset

NOTE:
  Seeding resets the store. The routes are only registered when
  server.dev_mode is true.

SEE ALSO:
  - server.go: Dev route registration
  - payment/sandbox: Checkout used in dev mode
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/bookstore/auth"
	"github.com/warp/bookstore/market"
)

// Demo credentials returned by SeedDemo.
const (
	demoAdminEmail    = "admin@bookstore.local"
	demoAdminPassword = "admin123"
	demoBuyerEmail    = "reader@bookstore.local"
	demoBuyerPassword = "reader123"
)

var demoBooks = []struct {
	title, author, description, price, category string
}{
	{"The Go Programming Language", "Alan Donovan", "A tour of Go from the ground up.", "19.99", "programming"},
	{"Designing Data-Intensive Applications", "Martin Kleppmann", "Storage, replication and stream processing.", "34.50", "programming"},
	{"The Left Hand of Darkness", "Ursula K. Le Guin", "An envoy on a planet of ambisexual people.", "9.99", "fiction"},
}

// SeedDemo resets the store and loads demo data.
// POST /api/dev/seed
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	books, err := h.seed(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SeedResponse{
		Message: "Demo data loaded",
		Admin:   SeedLogin{Email: demoAdminEmail, Password: demoAdminPassword},
		Buyer:   SeedLogin{Email: demoBuyerEmail, Password: demoBuyerPassword},
		Books:   toBookDTOs(books),
	})
}

// ResetDatabase clears all data.
// POST /api/dev/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Database reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(market.Resetter)
	if !ok {
		return market.Internal("reset_unsupported", "Store does not support reset", errors.ErrUnsupported)
	}
	if err := resetter.Reset(ctx); err != nil {
		return market.Internal("reset_failed", "Failed to reset database", err)
	}
	return nil
}

func (h *Handler) seed(ctx context.Context) ([]market.Book, error) {
	if err := h.reset(ctx); err != nil {
		return nil, err
	}

	admin, err := h.seedUser(ctx, "Store Admin", demoAdminEmail, demoAdminPassword, market.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if _, err := h.seedUser(ctx, "Demo Reader", demoBuyerEmail, demoBuyerPassword, market.RoleUser); err != nil {
		return nil, err
	}

	books := make([]market.Book, 0, len(demoBooks))
	for i, d := range demoBooks {
		price, err := market.ParseMoney(d.price, h.settings.Currency)
		if err != nil {
			return nil, market.Internal("seed_failed", "Invalid demo price", err)
		}
		now := h.now()
		book := market.Book{
			ID:          market.NewID(market.PrefixBook),
			Title:       d.title,
			Author:      d.author,
			Description: d.description,
			Price:       price,
			CoverURL:    fmt.Sprintf("/assets/covers/demo-%d.png", i+1),
			ContentURL:  fmt.Sprintf("/assets/content/demo-%d.pdf", i+1),
			Category:    d.category,
			SellerID:    admin.ID,
			PurchasedBy: []string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := h.Store.CreateBook(ctx, &book); err != nil {
			return nil, market.Internal("seed_failed", "Failed to create demo book", err)
		}
		books = append(books, book)
	}
	return books, nil
}

func (h *Handler) seedUser(ctx context.Context, name, email, password string, role market.Role) (*market.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, market.Internal("seed_failed", "Failed to hash demo password", err)
	}
	now := h.now()
	u := &market.User{
		ID:             market.NewID(market.PrefixUser),
		Email:          email,
		PasswordHash:   hash,
		Name:           name,
		Role:           role,
		Active:         true,
		PurchasedBooks: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Store.CreateUser(ctx, u); err != nil {
		return nil, market.Internal("seed_failed", "Failed to create demo user", err)
	}
	return u, nil
}
