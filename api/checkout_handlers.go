package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/bookstore/market"
)

// maxWebhookBody caps provider event payloads.
const maxWebhookBody = 64 << 10

// =============================================================================
// CHECKOUT ENDPOINTS
// =============================================================================

// CreateCheckoutSession starts a purchase for the caller.
// POST /api/checkout/sessions {"itemId"}
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	bookID := strings.TrimSpace(req.ItemID)
	if bookID == "" {
		bookID = strings.TrimSpace(req.BookID)
	}
	if bookID == "" {
		writeCodedError(w, http.StatusBadRequest, "validation_failed", "Validation failed",
			[]FieldError{{Field: "itemId", Rule: "required"}})
		return
	}

	session, err := h.Ledger.BeginCheckout(r.Context(), currentUser(r).ID, bookID)
	if err != nil {
		checkoutSessionsTotal.WithLabelValues(string(market.KindOf(err))).Inc()
		h.writeDomainError(w, r, err)
		return
	}
	checkoutSessionsTotal.WithLabelValues("created").Inc()

	writeJSON(w, http.StatusOK, CheckoutResponse{
		RedirectURL: session.RedirectURL,
		SessionID:   session.SessionID,
	})
}

// ConfirmPayment settles the caller's transaction for a session. A
// transaction that ends failed or expired is answered with 400.
// POST /api/checkout/confirm {"sessionId"}
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.Ledger.ConfirmPayment(r.Context(), currentUser(r).ID, req.SessionID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	paymentConfirmationsTotal.WithLabelValues(string(tx.Status)).Inc()

	if tx.Status != market.StatusCompleted {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Payment not completed"})
		return
	}

	view, err := h.Ledger.GetByID(r.Context(), tx.BuyerID, tx.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{
		Message:     "Payment confirmed successfully",
		Transaction: toTransactionDTO(view),
	})
}

// ListTransactions returns the caller's purchases, newest first.
// GET /api/checkout/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Ledger.ListForBuyer(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(views))
}

// GetTransaction returns one of the caller's purchases.
// GET /api/checkout/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.GetByID(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(view))
}

// =============================================================================
// WEBHOOK
// =============================================================================

// Webhook receives provider events. Events for unknown sessions are
// acknowledged so the provider stops retrying; store failures return 500
// so it retries.
// POST /api/checkout/webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_payload", "Unreadable payload", nil)
		return
	}

	ev, err := h.Webhooks.ParseEvent(payload, r.Header.Get(h.Webhooks.SignatureHeader()))
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook rejected",
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeCodedError(w, http.StatusBadRequest, "invalid_signature", "Webhook signature verification failed", nil)
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	tx, err := h.Ledger.HandleSessionEvent(r.Context(), *ev)
	switch {
	case err == nil:
		paymentConfirmationsTotal.WithLabelValues(string(tx.Status)).Inc()
		h.logger.InfoContext(r.Context(), "webhook applied",
			"event_id", ev.ID, "type", ev.Type, "transaction_id", tx.ID, "status", tx.Status)
	case market.IsClientError(err):
		h.logger.WarnContext(r.Context(), "webhook ignored",
			"event_id", ev.ID, "type", ev.Type, "session_id", ev.SessionID, "reason", market.ReasonOf(err))
	default:
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// =============================================================================
// SANDBOX CHECKOUT (dev mode)
// =============================================================================

// SandboxCheckout stands in for the hosted payment page. It marks the
// session paid (or leaves it unpaid with ?outcome=cancel) and redirects
// to the URL the ledger asked for.
// GET /sandbox/checkout/{id}
func (h *Handler) SandboxCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	req, ok := h.Sandbox.Request(sessionID)
	if !ok {
		h.writeDomainError(w, r, market.NotFound("session_not_found", "Checkout session not found", market.ErrUnknownSession))
		return
	}

	target := req.CancelURL
	if r.URL.Query().Get("outcome") != "cancel" {
		if err := h.Sandbox.MarkPaid(sessionID); err != nil {
			h.writeDomainError(w, r, market.Internal("sandbox_failed", "Failed to mark session paid", err))
			return
		}
		target = strings.ReplaceAll(req.SuccessURL, "{CHECKOUT_SESSION_ID}", sessionID)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
