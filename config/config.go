/*
Package config loads server settings from defaults, an optional file, and
BOOKSTORE_* environment variables, in increasing precedence.

USAGE:
  cfg, err := config.Load("bookstore.yaml") // "" skips the file
  BOOKSTORE_AUTH_JWT_SECRET=... overrides auth.jwt_secret

SEE ALSO:
  - cmd/server/main.go: Flags override port and store DSN
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig   `mapstructure:"server"`
	Store       StoreConfig    `mapstructure:"store"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Payment     PaymentConfig  `mapstructure:"payment"`
	FrontendURL string         `mapstructure:"frontend_url"`
	Assets      AssetsConfig   `mapstructure:"assets"`
	Mail        MailConfig     `mapstructure:"mail"`
	Checkout    CheckoutConfig `mapstructure:"checkout"`
	Log         LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	DevMode     bool     `mapstructure:"dev_mode"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	ResetTTL  time.Duration `mapstructure:"reset_ttl"`
}

type PaymentConfig struct {
	Provider            string        `mapstructure:"provider"`
	StripeSecretKey     string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string        `mapstructure:"stripe_webhook_secret"`
	Currency            string        `mapstructure:"currency"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

type AssetsConfig struct {
	Dir      string `mapstructure:"dir"`
	BaseURL  string `mapstructure:"base_url"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CheckoutConfig struct {
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Payment providers.
const (
	ProviderStripe  = "stripe"
	ProviderSandbox = "sandbox"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.dev_mode", false)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "bookstore.db")
	v.SetDefault("store.mongo_database", "bookstore")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 720*time.Hour)
	v.SetDefault("auth.reset_ttl", 10*time.Minute)

	v.SetDefault("payment.provider", ProviderStripe)
	v.SetDefault("payment.stripe_secret_key", "")
	v.SetDefault("payment.stripe_webhook_secret", "")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.timeout", 15*time.Second)

	v.SetDefault("frontend_url", "http://localhost:3000")

	v.SetDefault("assets.dir", "uploads")
	v.SetDefault("assets.base_url", "http://localhost:8080/assets")
	v.SetDefault("assets.max_bytes", 10<<20)

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@bookstore.local")

	v.SetDefault("checkout.pending_ttl", 24*time.Hour)
	v.SetDefault("checkout.sweep_interval", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOOKSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Payment.Currency = strings.ToLower(cfg.Payment.Currency)
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMongo, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, mongo, memory", c.Store.Driver))
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}

	switch c.Payment.Provider {
	case ProviderStripe:
		if c.Payment.StripeSecretKey == "" {
			errs = append(errs, errors.New("payment.stripe_secret_key is required for the stripe provider"))
		}
		// Stripe only accepts session expiries 30m to 24h out.
		if c.Checkout.PendingTTL < 30*time.Minute || c.Checkout.PendingTTL > 24*time.Hour {
			errs = append(errs, errors.New("checkout.pending_ttl must be between 30m and 24h for the stripe provider"))
		}
	case ProviderSandbox:
		// The sandbox pay page marks any session paid.
		if !c.Server.DevMode {
			errs = append(errs, errors.New("payment.provider sandbox requires server.dev_mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment.provider %q is not one of stripe, sandbox", c.Payment.Provider))
	}
	if len(c.Payment.Currency) != 3 {
		errs = append(errs, fmt.Errorf("payment.currency %q is not an ISO 4217 code", c.Payment.Currency))
	}

	if c.Checkout.SweepInterval <= 0 || c.Checkout.PendingTTL <= 0 {
		errs = append(errs, errors.New("checkout.pending_ttl and checkout.sweep_interval must be positive"))
	}
	if c.Assets.MaxBytes <= 0 {
		errs = append(errs, errors.New("assets.max_bytes must be positive"))
	}
	return errors.Join(errs...)
}
