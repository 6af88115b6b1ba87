// Package authtest signs identity provider style tokens for tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer   = "https://project.supabase.co/auth/v1"
	Audience = "authenticated"
)

// Provider holds an RSA key pair standing in for the identity provider.
type Provider struct {
	Key       *rsa.PrivateKey
	PublicPEM string
}

// NewProvider generates a fresh key pair.
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &Provider{Key: key, PublicPEM: string(block)}
}

// Token signs an access token for userID that expires after ttl (negative ttl yields an expired token).
func (p *Provider) Token(t testing.TB, userID uuid.UUID, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID.String(),
		"email": "user@example.com",
		"role":  "authenticated",
		"aud":   Audience,
		"iss":   Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.Key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
