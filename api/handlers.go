/*
handlers.go - HTTP handler context and shared helpers

PURPOSE:
  Exposes the marketplace via REST API. Handlers parse and validate the
  request, call the store or the ledger, and serialize the response.
  Purchase state is owned by market.Ledger; handlers never write
  transactions directly.

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:    Users, books, transactions
  - Ledger:   Checkout, confirmation, webhook settlement
  - Tokens:   Bearer token issue/verify
  - Assets:   Cover and manuscript uploads
  - Mail:     Password reset links
  - Webhooks: Provider signature verification (nil disables the route)
  - Sandbox:  Dev-only simulated checkout (nil outside dev mode)

ERROR HANDLING:
  Domain errors (*market.Error and store sentinels) go through
  writeDomainError, which maps market.Kind to a status:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid credentials
  - 403: Authenticated but not allowed
  - 404: Resource not found (including another buyer's transaction)
  - 409: Duplicate email
  - 502: Checkout provider failure
  - 500: Internal errors
  Upstream and internal errors are logged with the request id.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Protect/AdminOnly
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/warp/bookstore/assets"
	"github.com/warp/bookstore/auth"
	"github.com/warp/bookstore/mail"
	"github.com/warp/bookstore/market"
	"github.com/warp/bookstore/payment/sandbox"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AssetStore persists uploaded files.
type AssetStore interface {
	Save(kind assets.Kind, r io.Reader) (string, error)
	Delete(url string) error
}

// Settings are the handler's static options.
type Settings struct {
	// FrontendURL prefixes links sent by email.
	FrontendURL string
	// Currency prices new books and price filters.
	Currency string
	// ResetTTL is how long a password reset link stays valid.
	ResetTTL time.Duration
	// MaxUploadBytes bounds each uploaded file.
	MaxUploadBytes int64
	// DevMode registers the seed/reset routes.
	DevMode bool
	// CORSOrigins are allowed browser origins.
	CORSOrigins []string
}

// Deps bundles NewHandler's collaborators.
type Deps struct {
	Store    market.Store
	Ledger   *market.Ledger
	Tokens   *auth.TokenIssuer
	Assets   AssetStore
	Mail     mail.Sender
	Webhooks market.WebhookParser
	Sandbox  *sandbox.Provider
	Settings Settings
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    market.Store
	Ledger   *market.Ledger
	Tokens   *auth.TokenIssuer
	Assets   AssetStore
	Mail     mail.Sender
	Webhooks market.WebhookParser
	Sandbox  *sandbox.Provider

	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

// NewHandler creates a handler from deps.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	settings := d.Settings
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	if settings.ResetTTL <= 0 {
		settings.ResetTTL = 10 * time.Minute
	}
	if settings.MaxUploadBytes <= 0 {
		settings.MaxUploadBytes = 10 << 20
	}
	settings.FrontendURL = strings.TrimRight(settings.FrontendURL, "/")

	return &Handler{
		Store:    d.Store,
		Ledger:   d.Ledger,
		Tokens:   d.Tokens,
		Assets:   d.Assets,
		Mail:     d.Mail,
		Webhooks: d.Webhooks,
		Sandbox:  d.Sandbox,
		settings: settings,
		logger:   logger.With("component", "api"),
		now:      now,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Message: message, Details: details})
}

var kindStatus = map[market.Kind]int{
	market.KindValidation: http.StatusBadRequest,
	market.KindAuth:       http.StatusUnauthorized,
	market.KindForbidden:  http.StatusForbidden,
	market.KindNotFound:   http.StatusNotFound,
	market.KindConflict:   http.StatusConflict,
	market.KindUpstream:   http.StatusBadGateway,
	market.KindInternal:   http.StatusInternalServerError,
}

// writeDomainError maps err to a status and a stable error code. Causes of
// server-side failures are logged, not returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := market.KindOf(err)
	status := kindStatus[kind]

	message := http.StatusText(status)
	var de *market.Error
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}

	if kind == market.KindUpstream || kind == market.KindInternal {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"reason", market.ReasonOf(err),
			"error", err)
	}
	writeCodedError(w, status, market.ReasonOf(err), message, nil)
}

// decodeJSON reads and validates a JSON body into dst. It writes the
// error response and returns false on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON", err.Error())
		return false
	}
	return h.validStruct(w, dst)
}

func (h *Handler) validStruct(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeCodedError(w, http.StatusBadRequest, "validation_failed", "Validation failed", err.Error())
		return false
	}
	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()}
	}
	writeCodedError(w, http.StatusBadRequest, "validation_failed", "Validation failed", fields)
	return false
}
