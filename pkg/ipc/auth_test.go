package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret")
	token, err := tm.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokenManagerWithoutTTLNeverExpires(t *testing.T) {
	tm := NewTokenManager("secret")
	token, err := tm.GenerateToken("ops", 0)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestTokenManagerRejects(t *testing.T) {
	tm := NewTokenManager("secret")

	_, err := tm.ValidateToken("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = tm.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager("other").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = tm.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := tm.GenerateToken("ops", -time.Minute)
	require.NoError(t, err)
	_, err = tm.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
