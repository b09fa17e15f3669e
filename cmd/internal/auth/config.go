package auth

import (
	"os"
	"strings"
	"time"
)

// Config defines verification settings for bearer tokens.
type Config struct {
	// Issuer is the expected "iss" claim.
	Issuer string

	// PublicKeyHex is the hex-encoded Ed25519 public key of the token issuer.
	// Empty disables verification.
	PublicKeyHex string

	// ClockSkew is the tolerance applied to time-based claims.
	ClockSkew time.Duration
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    "carads",
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads verification settings.
//
// Optional:
//   - CARADS_AUTH_PASETO_PUBLIC_KEY
//   - CARADS_AUTH_ISSUER
//   - CARADS_AUTH_CLOCK_SKEW (Go duration, >= 0)
//
// Returns ErrConfig if a value is present but invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CARADS_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("CARADS_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PublicKeyHex = strings.TrimSpace(os.Getenv("CARADS_AUTH_PASETO_PUBLIC_KEY"))
	return cfg, nil
}
