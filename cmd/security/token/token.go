package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// SecretEnvKey is the env var name for the webhook secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "CARADS_TELEGRAM_WEBHOOK_SECRET"

	maxSecretLen = 256
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, log-safe identifier of a secret.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return HashSHA256Hex(secret)[:12]
}

// Verifier checks presented secrets. The zero value accepts everything.
type Verifier struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewVerifier validates secret and returns a Verifier. A blank secret disables verification.
func NewVerifier(secret string) (Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Verifier{}, nil
	}
	if len(secret) > maxSecretLen {
		return Verifier{}, ErrSecretTooLong
	}
	for _, r := range secret {
		if !secretRune(r) {
			return Verifier{}, ErrSecretCharset
		}
	}
	return Verifier{digest: sha256.Sum256([]byte(secret)), enabled: true}, nil
}

// VerifierFromEnv builds a Verifier from SecretEnvKey.
func VerifierFromEnv() (Verifier, error) {
	return NewVerifier(os.Getenv(SecretEnvKey))
}

// Enabled reports whether a secret is configured.
func (v Verifier) Enabled() bool { return v.enabled }

// Verify reports whether presented matches the configured secret.
// Both sides are hashed first so the comparison does not leak the secret length.
func (v Verifier) Verify(presented string) bool {
	if !v.enabled {
		return true
	}
	sum := sha256.Sum256([]byte(presented))
	return hmac.Equal(sum[:], v.digest[:])
}

func secretRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}
