package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posnetek/backend/internal/auth"
	"github.com/posnetek/backend/internal/auth/authtest"
)

func TestValidate(t *testing.T) {
	p := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, authtest.Issuer, authtest.Audience)
	require.NoError(t, err)

	userID := uuid.New()
	claims, err := v.Validate(p.Token(t, userID, time.Hour))
	require.NoError(t, err)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestValidateRejectsExpired(t *testing.T) {
	p := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, authtest.Issuer, authtest.Audience)
	require.NoError(t, err)

	_, err = v.Validate(p.Token(t, uuid.New(), -time.Minute))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsOtherKey(t *testing.T) {
	p := authtest.NewProvider(t)
	other := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, "", "")
	require.NoError(t, err)

	_, err = v.Validate(other.Token(t, uuid.New(), time.Hour))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	p := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, "https://elsewhere.example.com", "")
	require.NoError(t, err)

	_, err = v.Validate(p.Token(t, uuid.New(), time.Hour))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateRejectsHMAC(t *testing.T) {
	p := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, "", "")
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(p.PublicPEM))
	require.NoError(t, err)

	_, err = v.Validate(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestNewVerifierRejectsGarbage(t *testing.T) {
	_, err := auth.NewVerifier("not a key", "", "")
	assert.Error(t, err)
}
