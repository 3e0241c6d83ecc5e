package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bookstore/market"
)

// =============================================================================
// ADMIN: USERS
// =============================================================================

// AdminListUsers returns every user, newest first.
// GET /api/admin/users
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, market.Internal("user_list_failed", "Failed to list users", err))
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// AdminGetUser returns one user.
// GET /api/admin/users/{id}
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// AdminUpdateUser changes name, email, role or active status.
// PUT /api/admin/users/{id}
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUpdateUserRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		user.Email = market.NormalizeEmail(*req.Email)
	}
	if req.Role != nil {
		user.Role = market.Role(*req.Role)
	}
	if req.IsActive != nil {
		user.Active = *req.IsActive
	}
	user.UpdatedAt = h.now()

	if !h.saveUser(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// AdminDeleteUser removes a user. Their transactions stay in the ledger.
// DELETE /api/admin/users/{id}
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == currentUser(r).ID {
		h.writeDomainError(w, r, market.Validation("self_delete", "Admins cannot delete their own account"))
		return
	}

	err := h.Store.DeleteUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, market.ErrUserNotFound) {
			h.writeDomainError(w, r, market.NotFound("user_not_found", "User not found", err))
			return
		}
		h.writeDomainError(w, r, market.Internal("user_delete_failed", "Failed to delete user", err))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deleted successfully"})
}

func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request) (*market.User, bool) {
	user, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, market.ErrUserNotFound) {
			h.writeDomainError(w, r, market.NotFound("user_not_found", "User not found", err))
			return nil, false
		}
		h.writeDomainError(w, r, market.Internal("user_lookup_failed", "Failed to load user", err))
		return nil, false
	}
	return user, true
}

// =============================================================================
// ADMIN: BOOKS & TRANSACTIONS
// =============================================================================

// AdminListBooks returns the whole catalog.
// GET /api/admin/books
func (h *Handler) AdminListBooks(w http.ResponseWriter, r *http.Request) {
	h.writeBooks(w, r, market.BookFilter{})
}

// AdminDeleteBook removes any book.
// DELETE /api/admin/books/{id}
func (h *Handler) AdminDeleteBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	h.removeBook(w, r, book)
}

// AdminListTransactions returns every transaction with buyer and book.
// GET /api/admin/transactions
func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Ledger.ListAll(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(views))
}

// AdminGetTransaction returns any transaction with buyer and book.
// GET /api/admin/transactions/{id}
func (h *Handler) AdminGetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(view))
}
