package auth

import (
	"crypto"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds the identity provider's access token claims. The subject is the user ID.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Verifier validates access tokens issued by the identity provider. Tokens are never issued here.
type Verifier struct {
	key      crypto.PublicKey
	issuer   string
	audience string
}

// NewVerifier creates a verifier from a PEM-encoded RSA or ECDSA public key.
// Issuer and audience are checked when non-empty.
func NewVerifier(publicKeyPEM, issuer, audience string) (*Verifier, error) {
	key, err := parsePublicKey([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, issuer: issuer, audience: audience}, nil
}

func parsePublicKey(pem []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("parse public key: unsupported or malformed PEM")
}

// Validate parses and validates a JWT, returning claims or error.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
