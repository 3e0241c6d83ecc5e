package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 720*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ResetTTL)
	assert.Equal(t, 15*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "usd", cfg.Payment.Currency)
	assert.Equal(t, int64(10<<20), cfg.Assets.MaxBytes)
	assert.Equal(t, 24*time.Hour, cfg.Checkout.PendingTTL)
	assert.Equal(t, time.Hour, cfg.Checkout.SweepInterval)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A file setting the provider and secret, and an env override
	path := filepath.Join(t.TempDir(), "bookstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  dev_mode: true
payment:
  provider: sandbox
  currency: EUR
auth:
  jwt_secret: from-file
checkout:
  pending_ttl: 2h
`), 0o644))
	t.Setenv("BOOKSTORE_AUTH_JWT_SECRET", "from-env")

	// WHEN: Loading
	cfg, err := Load(path)

	// THEN: Env wins over the file, the file over defaults
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, ProviderSandbox, cfg.Payment.Provider)
	assert.Equal(t, "eur", cfg.Payment.Currency)
	assert.Equal(t, 2*time.Hour, cfg.Checkout.PendingTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	// Defaults: stripe provider without keys and no JWT secret.
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
	assert.Contains(t, err.Error(), "payment.stripe_secret_key")

	cfg.Auth.JWTSecret = "s"
	cfg.Payment.StripeSecretKey = "sk_test"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "redis"
	assert.ErrorContains(t, cfg.Validate(), "store.driver")
}

func TestValidate_SandboxRequiresDevMode(t *testing.T) {
	// GIVEN: A sandbox provider outside dev mode
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Auth.JWTSecret = "s"
	cfg.Payment.Provider = ProviderSandbox

	// THEN: Validation refuses it
	assert.ErrorContains(t, cfg.Validate(), "server.dev_mode")

	// WHEN: Dev mode is on
	cfg.Server.DevMode = true

	// THEN: It is accepted
	assert.NoError(t, cfg.Validate())
}

func TestValidate_StripePendingTTLWindow(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Auth.JWTSecret = "s"
	cfg.Payment.StripeSecretKey = "sk_test"

	cfg.Checkout.PendingTTL = 10 * time.Minute
	assert.ErrorContains(t, cfg.Validate(), "checkout.pending_ttl")

	cfg.Checkout.PendingTTL = 48 * time.Hour
	assert.ErrorContains(t, cfg.Validate(), "checkout.pending_ttl")

	cfg.Checkout.PendingTTL = time.Hour
	assert.NoError(t, cfg.Validate())
}
