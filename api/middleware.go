package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/warp/bookstore/market"
)

type ctxKey int

const userKey ctxKey = iota

// Protect requires a valid bearer token for an active user. The user is
// reloaded from the store on every request so role and status changes
// apply immediately.
func (h *Handler) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.writeDomainError(w, r, market.Unauthorized("token_missing", "Not authorized, no token"))
			return
		}

		userID, err := h.Tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			h.writeDomainError(w, r, market.Unauthorized("token_invalid", "Not authorized, token failed"))
			return
		}

		user, err := h.Store.GetUser(r.Context(), userID)
		if errors.Is(err, market.ErrUserNotFound) {
			h.writeDomainError(w, r, market.Unauthorized("token_invalid", "Not authorized, user not found"))
			return
		}
		if err != nil {
			h.writeDomainError(w, r, market.Internal("user_lookup_failed", "Failed to load user", err))
			return
		}
		if !user.Active {
			h.writeDomainError(w, r, market.Unauthorized("account_inactive", "Account is deactivated"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// AdminOnly must run after Protect.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := currentUser(r); u == nil || !u.IsAdmin() {
			h.writeDomainError(w, r, market.Forbidden("admin_required", "Not authorized as an admin"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the user set by Protect, or nil.
func currentUser(r *http.Request) *market.User {
	u, _ := r.Context().Value(userKey).(*market.User)
	return u
}
