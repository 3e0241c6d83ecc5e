/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bookstore API server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Open the store selected by store.driver
  3. Build the checkout provider, ledger, token issuer, asset store, mailer
  4. Create API handler and router
  5. Start the abandoned-checkout sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional YAML/JSON/TOML config file
  -port    HTTP server port (overrides server.port)
  -db      Store DSN (overrides store.dsn)
           Use ":memory:" with the sqlite driver for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close the store
  5. Exit

EXAMPLES:
  # Local development: sqlite file, sandbox checkout, demo seed routes
  BOOKSTORE_AUTH_JWT_SECRET=dev BOOKSTORE_PAYMENT_PROVIDER=sandbox \
  BOOKSTORE_SERVER_DEV_MODE=true ./server -db="./data/bookstore.db"

  # Production-like: postgres and stripe
  BOOKSTORE_STORE_DRIVER=postgres \
  BOOKSTORE_STORE_DSN="postgres://bookstore@localhost/bookstore" \
  BOOKSTORE_PAYMENT_STRIPE_SECRET_KEY=sk_test_... ./server -config=bookstore.yaml

ENVIRONMENT:
  Every config key can be set as BOOKSTORE_<SECTION>_<KEY>, see config/.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings and defaults
  - market/ledger.go: Purchase workflow
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/warp/bookstore/api"
	"github.com/warp/bookstore/assets"
	"github.com/warp/bookstore/auth"
	"github.com/warp/bookstore/config"
	"github.com/warp/bookstore/mail"
	"github.com/warp/bookstore/market"
	memstore "github.com/warp/bookstore/market/store"
	"github.com/warp/bookstore/payment/sandbox"
	"github.com/warp/bookstore/payment/stripe"
	"github.com/warp/bookstore/store/mongo"
	"github.com/warp/bookstore/store/postgres"
	"github.com/warp/bookstore/store/sqlite"
)

// devWebhookSecret signs sandbox webhooks when no secret is configured.
const devWebhookSecret = "whsec_sandbox"

func main() {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Store DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Initialize store
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer closeStore()

	// Checkout provider
	var (
		provider market.CheckoutProvider
		webhooks market.WebhookParser
		sandboxP *sandbox.Provider
	)
	switch cfg.Payment.Provider {
	case config.ProviderSandbox:
		secret := cfg.Payment.StripeWebhookSecret
		if secret == "" {
			secret = devWebhookSecret
		}
		sandboxP = sandbox.New(fmt.Sprintf("http://localhost:%d", cfg.Server.Port), secret)
		provider, webhooks = sandboxP, sandboxP
	default:
		sp := stripe.New(stripe.Config{
			SecretKey:     cfg.Payment.StripeSecretKey,
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
			Timeout:       cfg.Payment.Timeout,
		})
		provider = sp
		if cfg.Payment.StripeWebhookSecret != "" {
			webhooks = sp
		} else {
			logger.Warn("payment.stripe_webhook_secret not set, webhook route disabled")
		}
	}

	ledger := market.NewLedger(store, provider, market.LedgerConfig{
		FrontendURL:   cfg.FrontendURL,
		PaymentMethod:   cfg.Payment.Provider,
		SessionTTL:      cfg.Checkout.PendingTTL,
		ProviderTimeout: cfg.Payment.Timeout,
		Logger:          logger,
	})

	files, err := assets.NewLocalStore(cfg.Assets.Dir, cfg.Assets.BaseURL, cfg.Assets.MaxBytes)
	if err != nil {
		log.Fatalf("Failed to initialize asset store: %v", err)
	}

	var mailer mail.Sender = mail.NewLogSender(logger)
	if cfg.Mail.Host != "" {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	}

	// Initialize handler
	handler := api.NewHandler(api.Deps{
		Store:    store,
		Ledger:   ledger,
		Tokens:   auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil),
		Assets:   files,
		Mail:     mailer,
		Webhooks: webhooks,
		Sandbox:  sandboxP,
		Settings: api.Settings{
			FrontendURL:    cfg.FrontendURL,
			Currency:       cfg.Payment.Currency,
			ResetTTL:       cfg.Auth.ResetTTL,
			MaxUploadBytes: cfg.Assets.MaxBytes,
			DevMode:        cfg.Server.DevMode,
			CORSOrigins:    cfg.Server.CORSOrigins,
		},
		Logger: logger,
	})

	// Create router
	router := api.NewRouter(handler)

	// Start sweeper
	sweeper := api.NewCheckoutSweeper(ledger, logger)
	sweeper.CheckInterval = cfg.Checkout.SweepInterval
	sweeper.PendingTTL = cfg.Checkout.PendingTTL
	sweeper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"store", cfg.Store.Driver,
			"payment", cfg.Payment.Provider,
			"dev_mode", cfg.Server.DevMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	sweeper.Stop()

	logger.Info("server stopped")
}

// openStore returns the store selected by cfg.Driver and its close func.
func openStore(ctx context.Context, cfg config.StoreConfig) (market.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMongo:
		s, err := mongo.New(ctx, cfg.DSN, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return memstore.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
