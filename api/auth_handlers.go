package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bookstore/auth"
	"github.com/warp/bookstore/mail"
	"github.com/warp/bookstore/market"
)

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Register creates a user account.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeDomainError(w, r, market.Internal("password_hash_failed", "Failed to create user", err))
		return
	}

	now := h.now()
	user := &market.User{
		ID:             market.NewID(market.PrefixUser),
		Email:          market.NormalizeEmail(req.Email),
		PasswordHash:   hash,
		Name:           strings.TrimSpace(req.Name),
		Role:           market.RoleUser,
		Active:         true,
		PurchasedBooks: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, market.ErrDuplicateEmail) {
			h.writeDomainError(w, r, market.Conflict("user_exists", "User already exists", err))
			return
		}
		h.writeDomainError(w, r, market.Internal("user_create_failed", "Failed to create user", err))
		return
	}

	h.writeAuth(w, r, http.StatusCreated, user)
}

// Login exchanges credentials for a token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, market.ErrUserNotFound) {
		h.writeDomainError(w, r, market.Internal("user_lookup_failed", "Failed to load user", err))
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.writeDomainError(w, r, market.Unauthorized("invalid_credentials", "Invalid credentials"))
		return
	}
	if !user.Active {
		h.writeDomainError(w, r, market.Forbidden("account_inactive", "Account is deactivated"))
		return
	}

	now := h.now()
	user.LastLogin = &now
	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		h.writeDomainError(w, r, market.Internal("user_update_failed", "Failed to record login", err))
		return
	}

	h.writeAuth(w, r, http.StatusOK, user)
}

// ForgotPassword emails a single-use reset link.
// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, market.ErrUserNotFound) {
			h.writeDomainError(w, r, market.NotFound("user_not_found", "User not found", err))
			return
		}
		h.writeDomainError(w, r, market.Internal("user_lookup_failed", "Failed to load user", err))
		return
	}

	token, hash, err := auth.NewResetToken()
	if err != nil {
		h.writeDomainError(w, r, market.Internal("reset_token_failed", "Failed to create reset token", err))
		return
	}
	expires := h.now().Add(h.settings.ResetTTL)
	user.ResetTokenHash = hash
	user.ResetExpires = &expires
	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		h.writeDomainError(w, r, market.Internal("user_update_failed", "Failed to store reset token", err))
		return
	}

	link := h.settings.FrontendURL + "/reset-password/" + token
	err = h.Mail.Send(r.Context(), mail.Message{
		To:      user.Email,
		Subject: "Password reset",
		Body: "You are receiving this email because a password reset was requested for your account.\n\n" +
			"Open the following link to choose a new password:\n\n" + link + "\n\n" +
			"The link expires in " + h.settings.ResetTTL.String() + ".",
	})
	if err != nil {
		user.ResetTokenHash = ""
		user.ResetExpires = nil
		if uerr := h.Store.UpdateUser(r.Context(), user); uerr != nil {
			h.logger.ErrorContext(r.Context(), "failed to clear reset token", "user_id", user.ID, "error", uerr)
		}
		h.writeDomainError(w, r, market.Internal("email_failed", "Email could not be sent", err))
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset email sent"})
}

// ResetPassword sets a new password using a reset token.
// PUT /api/auth/reset-password/{token}
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	hash := auth.HashResetToken(chi.URLParam(r, "token"))
	user, err := h.Store.GetUserByResetToken(r.Context(), hash, h.now())
	if err != nil {
		if errors.Is(err, market.ErrUserNotFound) {
			h.writeDomainError(w, r, market.Validation("reset_token_invalid", "Invalid or expired reset token"))
			return
		}
		h.writeDomainError(w, r, market.Internal("user_lookup_failed", "Failed to load user", err))
		return
	}

	if !h.setPassword(w, r, user, req.Password) {
		return
	}
	h.writeAuth(w, r, http.StatusOK, user)
}

// UpdatePassword changes the caller's password.
// PUT /api/auth/update-password
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user := currentUser(r)
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		h.writeDomainError(w, r, market.Unauthorized("password_mismatch", "Current password is incorrect"))
		return
	}
	if !h.setPassword(w, r, user, req.NewPassword) {
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// setPassword hashes and stores password, clearing any reset token.
func (h *Handler) setPassword(w http.ResponseWriter, r *http.Request, user *market.User, password string) bool {
	if err := auth.ValidatePassword(password); err != nil {
		h.writeDomainError(w, r, market.Validation("password_too_short", "Password must be at least 6 characters long"))
		return false
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		h.writeDomainError(w, r, market.Internal("password_hash_failed", "Failed to update password", err))
		return false
	}
	user.PasswordHash = hash
	user.ResetTokenHash = ""
	user.ResetExpires = nil
	user.UpdatedAt = h.now()
	if err := h.Store.UpdateUser(r.Context(), user); err != nil {
		h.writeDomainError(w, r, market.Internal("user_update_failed", "Failed to update password", err))
		return false
	}
	return true
}

func (h *Handler) writeAuth(w http.ResponseWriter, r *http.Request, status int, user *market.User) {
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.writeDomainError(w, r, market.Internal("token_issue_failed", "Failed to issue token", err))
		return
	}
	writeJSON(w, status, AuthResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  string(user.Role),
		Token: token,
	})
}

// =============================================================================
// PROFILE ENDPOINTS
// =============================================================================

// GetProfile returns the caller.
// GET /api/users/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserDTO(currentUser(r)))
}

// UpdateProfile changes the caller's name, email or avatar.
// PUT /api/users/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user := currentUser(r)
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil && *req.Email != "" {
		user.Email = market.NormalizeEmail(*req.Email)
	}
	if req.Avatar != nil && *req.Avatar != "" {
		user.Avatar = *req.Avatar
	}
	user.UpdatedAt = h.now()

	if !h.saveUser(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

func (h *Handler) saveUser(w http.ResponseWriter, r *http.Request, user *market.User) bool {
	err := h.Store.UpdateUser(r.Context(), user)
	switch {
	case errors.Is(err, market.ErrDuplicateEmail):
		h.writeDomainError(w, r, market.Conflict("email_taken", "Email already in use", err))
		return false
	case errors.Is(err, market.ErrUserNotFound):
		h.writeDomainError(w, r, market.NotFound("user_not_found", "User not found", err))
		return false
	case err != nil:
		h.writeDomainError(w, r, market.Internal("user_update_failed", "Failed to update user", err))
		return false
	}
	return true
}
