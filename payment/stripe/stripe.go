/*
Package stripe adapts Stripe Checkout to market.CheckoutProvider.

PURPOSE:
  One-item hosted checkout sessions priced in the book's currency, session
  retrieval for the confirmation path, and signature-verified webhook
  decoding for the asynchronous path.

PAYMENT STATE:
  A session counts as paid when Stripe reports payment_status "paid" or
  "no_payment_required". checkout.session.completed with any other status
  is a delayed-method payment still in flight; it is ignored and the later
  async_payment_succeeded / async_payment_failed event settles it.

SEE ALSO:
  - payment/sandbox: In-process stand-in
  - market/provider.go: Provider contract
*/
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/warp/bookstore/market"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

// Webhook event types that carry a session outcome.
const (
	EventSessionCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventSessionExpired        = "checkout.session.expired"
)

// Config holds the Stripe credentials.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the Stripe API endpoint, for stubs.
	BaseURL string
}

// Provider talks to the Stripe API.
type Provider struct {
	sc            *client.API
	webhookSecret string
}

// New builds a provider with its own HTTP client.
func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	backends := stripego.NewBackends(httpClient)
	if cfg.BaseURL != "" {
		api := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
			HTTPClient:        httpClient,
			URL:               stripego.String(cfg.BaseURL),
			MaxNetworkRetries: stripego.Int64(0),
		})
		backends = &stripego.Backends{API: api, Connect: api, Uploads: api}
	}
	return &Provider{
		sc:            client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateSession opens a card checkout for a single line item.
func (p *Provider) CreateSession(ctx context.Context, req market.SessionRequest) (market.ProviderSession, error) {
	product := &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripego.String(req.Name),
	}
	if req.Description != "" {
		product.Description = stripego.String(req.Description)
	}

	params := &stripego.CheckoutSessionParams{
		Params:             stripego.Params{Context: ctx},
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripego.String(req.Amount.Currency),
					ProductData: product,
					UnitAmount:  stripego.Int64(req.Amount.Amount),
				},
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripego.Int64(req.ExpiresAt.Unix())
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return market.ProviderSession{}, fmt.Errorf("stripe: create session: %w", err)
	}
	return market.ProviderSession{ID: s.ID, URL: s.URL}, nil
}

// RetrieveSession fetches the session's payment state.
func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (market.SessionStatus, error) {
	params := &stripego.CheckoutSessionParams{Params: stripego.Params{Context: ctx}}
	s, err := p.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var se *stripego.Error
		if errors.As(err, &se) && se.Code == stripego.ErrorCodeResourceMissing {
			return market.SessionStatus{}, fmt.Errorf("stripe: %s: %w", sessionID, market.ErrUnknownSession)
		}
		return market.SessionStatus{}, fmt.Errorf("stripe: retrieve session: %w", err)
	}
	return sessionStatus(s), nil
}

// SignatureHeader implements market.WebhookParser.
func (p *Provider) SignatureHeader() string { return SignatureHeader }

// ParseEvent verifies the Stripe signature and maps checkout events.
func (p *Provider) ParseEvent(payload []byte, signature string) (*market.SessionEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("stripe: verify webhook: %w", err)
	}
	return sessionEvent(ev)
}

func sessionEvent(ev stripego.Event) (*market.SessionEvent, error) {
	eventType := string(ev.Type)
	switch eventType {
	case EventSessionCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed, EventSessionExpired:
	default:
		return nil, nil
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("stripe: event %s has no data", ev.ID)
	}

	var s stripego.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("stripe: decode session: %w", err)
	}

	status := sessionStatus(&s)
	switch eventType {
	case EventSessionCompleted:
		if !status.Paid {
			return nil, nil
		}
	case EventAsyncPaymentSucceeded:
		status.Paid = true
	case EventAsyncPaymentFailed, EventSessionExpired:
		status.Paid = false
	}

	return &market.SessionEvent{
		ID:        ev.ID,
		Type:      eventType,
		SessionID: s.ID,
		Status:    status,
	}, nil
}

func sessionStatus(s *stripego.CheckoutSession) market.SessionStatus {
	st := market.SessionStatus{
		PaymentStatus: string(s.PaymentStatus),
		Paid: s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
	if s.PaymentIntent != nil {
		st.PaymentIntentID = s.PaymentIntent.ID
	}
	return st
}

var (
	_ market.CheckoutProvider = (*Provider)(nil)
	_ market.WebhookParser    = (*Provider)(nil)
)
