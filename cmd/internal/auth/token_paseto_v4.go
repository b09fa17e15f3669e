package auth

import (
	"net/http"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the verified content of an access token.
type Claims struct {
	Identity
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Verifier checks PASETO v4.public access tokens.
type Verifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
	enabled   bool
}

// NewVerifier builds a Verifier. An empty public key yields a disabled verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer, clockSkew: cfg.ClockSkew}
	if cfg.PublicKeyHex == "" {
		return v, nil
	}

	pub, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	v.public = pub
	v.enabled = true
	return v, nil
}

// Enabled reports whether tokens can be verified at all.
func (v *Verifier) Enabled() bool { return v != nil && v.enabled }

// Verify parses and validates token at now.
func (v *Verifier) Verify(token string, now time.Time) (Claims, error) {
	if !v.Enabled() {
		return Claims{}, ErrInvalidToken
	}

	// Validate slightly in the future to avoid failing "nbf" when clocks differ.
	validNow := now.Add(v.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	role, _ := parsed.GetString("role")

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		Identity:  Identity{UserID: uid, Role: normalizeRole(role)},
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

// Resolve returns the identity of r. A request without a bearer is anonymous
// with ErrNoToken; a bearer that fails verification is anonymous with ErrInvalidToken.
func (v *Verifier) Resolve(r *http.Request, now time.Time) (Identity, error) {
	tok, ok := BearerFromRequest(r)
	if !ok {
		return Identity{}, ErrNoToken
	}
	claims, err := v.Verify(tok, now)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity, nil
}

// RequireAdmin resolves r and insists on the admin role.
func (v *Verifier) RequireAdmin(r *http.Request, now time.Time) (Identity, error) {
	id, err := v.Resolve(r, now)
	if err != nil {
		return Identity{}, err
	}
	if !id.IsAdmin() {
		return id, ErrForbidden
	}
	return id, nil
}
