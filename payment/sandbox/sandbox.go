/*
Package sandbox is an in-process checkout provider for development and tests.

PURPOSE:
  Behaves like a hosted checkout: CreateSession hands out a session id and
  a redirect URL, RetrieveSession reports whether the session was paid.
  Payment is simulated with MarkPaid/MarkUnpaid, either from tests or
  through the dev-mode HTTP route. Webhook deliveries are signed with
  HMAC-SHA256 over the raw body so the webhook path can be exercised
  end to end.

USAGE:
  p := sandbox.New("http://localhost:8080", "whsec_dev")
  sess, _ := p.CreateSession(ctx, req)
  p.MarkPaid(sess.ID)

SEE ALSO:
  - payment/stripe: The real provider
  - market/provider.go: Provider contract
*/
package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/bookstore/market"
)

// SignatureHeader carries the hex HMAC of a webhook body.
const SignatureHeader = "X-Sandbox-Signature"

// Payment states reported by RetrieveSession.
const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
)

// ErrBadSignature is returned for webhook bodies whose signature doesn't match.
var ErrBadSignature = errors.New("sandbox: signature mismatch")

type session struct {
	req    market.SessionRequest
	status string
	intent string
}

// Provider is the sandbox checkout. Safe for concurrent use.
type Provider struct {
	baseURL string
	secret  []byte

	mu          sync.Mutex
	sessions    map[string]*session
	createErr   error
	retrieveErr error
	retrieved   int
}

// New creates a sandbox whose redirect URLs point at baseURL.
func New(baseURL, webhookSecret string) *Provider {
	return &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   []byte(webhookSecret),
		sessions: make(map[string]*session),
	}
}

// =============================================================================
// CHECKOUT PROVIDER
// =============================================================================

func (p *Provider) CreateSession(ctx context.Context, req market.SessionRequest) (market.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return market.ProviderSession{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		err := p.createErr
		p.createErr = nil
		return market.ProviderSession{}, err
	}

	id := "cs_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	p.sessions[id] = &session{req: req, status: StatusUnpaid}

	return market.ProviderSession{
		ID:  id,
		URL: p.baseURL + "/sandbox/checkout/" + id,
	}, nil
}

func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (market.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return market.SessionStatus{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.retrieved++
	if p.retrieveErr != nil {
		err := p.retrieveErr
		p.retrieveErr = nil
		return market.SessionStatus{}, err
	}

	s, ok := p.sessions[sessionID]
	if !ok {
		return market.SessionStatus{}, fmt.Errorf("%w: %s", market.ErrUnknownSession, sessionID)
	}
	return market.SessionStatus{
		Paid:            s.status == StatusPaid,
		PaymentStatus:   s.status,
		PaymentIntentID: s.intent,
	}, nil
}

// =============================================================================
// SIMULATION
// =============================================================================

// MarkPaid records a successful payment for sessionID.
func (p *Provider) MarkPaid(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownSession, sessionID)
	}
	s.status = StatusPaid
	if s.intent == "" {
		s.intent = "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return nil
}

// MarkUnpaid resets sessionID to unpaid.
func (p *Provider) MarkUnpaid(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownSession, sessionID)
	}
	s.status = StatusUnpaid
	return nil
}

// FailNextCreate makes the next CreateSession call return err.
func (p *Provider) FailNextCreate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// FailNextRetrieve makes the next RetrieveSession call return err.
func (p *Provider) FailNextRetrieve(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieveErr = err
}

// Request returns what was asked of sessionID.
func (p *Provider) Request(sessionID string) (market.SessionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return market.SessionRequest{}, false
	}
	return s.req, true
}

// Retrievals counts RetrieveSession calls.
func (p *Provider) Retrievals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retrieved
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// Event is the sandbox webhook body.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Event types.
const (
	EventSessionPaid    = "session.paid"
	EventSessionFailed  = "session.failed"
	EventSessionPending = "session.pending"
)

// SignatureHeader names the header ParseEvent expects.
func (p *Provider) SignatureHeader() string { return SignatureHeader }

// Sign returns the signature for payload.
func (p *Provider) Sign(payload []byte) string {
	return hex.EncodeToString(p.mac(payload))
}

func (p *Provider) mac(payload []byte) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// ParseEvent verifies and decodes a webhook delivery.
func (p *Provider) ParseEvent(payload []byte, signature string) (*market.SessionEvent, error) {
	want, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(want, p.mac(payload)) {
		return nil, ErrBadSignature
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("sandbox: decode event: %w", err)
	}

	switch ev.Type {
	case EventSessionPaid, EventSessionFailed:
	default:
		return nil, nil
	}

	status := market.SessionStatus{PaymentStatus: StatusUnpaid}
	if ev.Type == EventSessionPaid {
		status.Paid = true
		status.PaymentStatus = StatusPaid
		p.mu.Lock()
		if s, ok := p.sessions[ev.SessionID]; ok {
			status.PaymentIntentID = s.intent
		}
		p.mu.Unlock()
	}

	return &market.SessionEvent{
		ID:        ev.ID,
		Type:      ev.Type,
		SessionID: ev.SessionID,
		Status:    status,
	}, nil
}

var (
	_ market.CheckoutProvider = (*Provider)(nil)
	_ market.WebhookParser    = (*Provider)(nil)
)
