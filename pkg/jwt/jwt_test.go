package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAccessTokenRoundTrip(t *testing.T) {
	s := NewJWTService(testSecret, time.Hour, 24*time.Hour)

	token, err := s.GenerateAccessToken(42, "a@example.com")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshTokenIsNotAccessToken(t *testing.T) {
	s := NewJWTService(testSecret, time.Hour, 24*time.Hour)

	refresh, err := s.GenerateRefreshToken(1, "a@example.com")
	require.NoError(t, err)
	access, err := s.GenerateAccessToken(1, "a@example.com")
	require.NoError(t, err)

	_, err = s.ValidateToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ValidateRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims, err := s.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.UserID)
}

func TestExpiredToken(t *testing.T) {
	s := NewJWTService(testSecret, -time.Minute, time.Hour)
	token, err := s.GenerateAccessToken(1, "a@example.com")
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestWrongSecretAndGarbage(t *testing.T) {
	s := NewJWTService(testSecret, time.Hour, time.Hour)
	other := NewJWTService("ffffffffffffffffffffffffffffffff", time.Hour, time.Hour)

	token, err := other.GenerateAccessToken(1, "a@example.com")
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	s := NewJWTService(testSecret, time.Hour, time.Hour)
	claims := UserClaims{
		UserID: 1,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectAccess,
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashToken(t *testing.T) {
	a := HashToken("abc")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken("abc"))
	assert.NotEqual(t, a, HashToken("abd"))
}
