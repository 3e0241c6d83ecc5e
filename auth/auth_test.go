package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("secret", time.Hour, func() time.Time { return now })

	token, err := issuer.Issue("user_123")
	require.NoError(t, err)

	sub, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", sub)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	issuer := NewTokenIssuer("secret", time.Hour, func() time.Time { return clock })

	token, err := issuer.Issue("user_123")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenIssuer("other", time.Hour, func() time.Time { return now })
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		clock = now.Add(2 * time.Hour)
		defer func() { clock = now }()
		_, err := issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("12345"), ErrPasswordTooShort)
	assert.NoError(t, ValidatePassword("123456"))

	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}

func TestResetToken(t *testing.T) {
	token, hash, err := NewResetToken()
	require.NoError(t, err)

	assert.Len(t, token, 64)
	assert.Equal(t, HashResetToken(token), hash)
	assert.NotEqual(t, token, hash)

	other, _, err := NewResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}
