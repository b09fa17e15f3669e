// Package authtest mints access tokens for tests of packages that verify them.
package authtest

import (
	"testing"
	"time"

	"carads/cmd/internal/auth"

	paseto "aidanwoods.dev/go-paseto"
)

// Issuer is the issuer used by NewPair.
const Issuer = "carads"

// Signer mints tokens with the claim layout auth.Verifier expects.
type Signer struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewSigner returns a signer with a fresh Ed25519 key.
func NewSigner(issuer string, ttl time.Duration) *Signer {
	return &Signer{issuer: issuer, ttl: ttl, secret: paseto.NewV4AsymmetricSecretKey()}
}

// PublicKeyHex returns the verification key for this signer.
func (s *Signer) PublicKeyHex() string { return s.secret.Public().ExportHex() }

// Sign issues a token for id valid from now for the signer's TTL.
func (s *Signer) Sign(id auth.Identity, now time.Time) string {
	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(s.ttl))

	_ = tok.Set("uid", id.UserID)
	if id.Role != "" {
		_ = tok.Set("role", id.Role)
	}
	return tok.V4Sign(s.secret, nil)
}

// NewPair returns a signer and a verifier that trusts it.
func NewPair(t testing.TB) (*Signer, *auth.Verifier) {
	t.Helper()

	s := NewSigner(Issuer, 15*time.Minute)
	v, err := auth.NewVerifier(auth.Config{Issuer: Issuer, PublicKeyHex: s.PublicKeyHex(), ClockSkew: 30 * time.Second})
	if err != nil {
		t.Fatalf("auth.NewVerifier: %v", err)
	}
	return s, v
}
