/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. instrument: Prometheus request metrics per route pattern
  5. CORS:       Cross-origin requests for the storefront

ROUTE GROUPS:
  /api/auth/*           Register, login, password reset
  /api/users/*          Caller profile (auth)
  /api/books/*          Catalog; writes need auth, create needs admin
  /api/checkout/*       Ledger surface (auth), webhook (provider-signed)
  /api/admin/*          Users, books, transactions (admin)
  /api/dev/*            Seed/reset (dev mode only)
  /sandbox/checkout/*   Simulated payment page (sandbox provider only)
  /assets/*             Uploaded covers and content
  /health, /metrics     Ops

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.settings.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	if h.Assets != nil {
		if fs, ok := h.Assets.(interface{ Handler() http.Handler }); ok {
			r.Handle("/assets/*", http.StripPrefix("/assets", fs.Handler()))
		}
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Put("/reset-password/{token}", h.ResetPassword)
			r.With(h.Protect).Put("/update-password", h.UpdatePassword)
		})

		// Profile routes
		r.Route("/users", func(r chi.Router) {
			r.Use(h.Protect)
			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)
		})

		// Catalog routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Get("/{id}", h.GetBook)

			r.Group(func(r chi.Router) {
				r.Use(h.Protect)
				r.With(h.AdminOnly).Post("/", h.CreateBook)
				r.Put("/{id}", h.UpdateBook)
				r.Delete("/{id}", h.DeleteBook)
				r.Get("/seller/{sellerId}", h.ListBooksBySeller)
				r.Get("/{id}/pdf", h.GetBookContent)
			})
		})

		// Checkout routes
		r.Route("/checkout", func(r chi.Router) {
			if h.Webhooks != nil {
				r.Post("/webhook", h.Webhook)
			}

			r.Group(func(r chi.Router) {
				r.Use(h.Protect)
				r.Post("/sessions", h.CreateCheckoutSession)
				r.Post("/confirm", h.ConfirmPayment)
				r.Get("/transactions", h.ListTransactions)
				r.Get("/transactions/{id}", h.GetTransaction)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Protect, h.AdminOnly)
			r.Get("/users", h.AdminListUsers)
			r.Get("/users/{id}", h.AdminGetUser)
			r.Put("/users/{id}", h.AdminUpdateUser)
			r.Delete("/users/{id}", h.AdminDeleteUser)
			r.Get("/books", h.AdminListBooks)
			r.Delete("/books/{id}", h.AdminDeleteBook)
			r.Get("/transactions", h.AdminListTransactions)
			r.Get("/transactions/{id}", h.AdminGetTransaction)
		})

		// Dev routes
		if h.settings.DevMode {
			r.Route("/dev", func(r chi.Router) {
				r.Post("/seed", h.SeedDemo)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	if h.Sandbox != nil {
		r.Get("/sandbox/checkout/{id}", h.SandboxCheckout)
	}

	return r
}
