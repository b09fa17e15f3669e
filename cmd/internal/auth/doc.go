// Package auth resolves realtime connection identities from PASETO v4.public
// bearer tokens.
//
// Token issuance belongs to the account service; this package only verifies.
// The access token carries:
//   - iss: must equal the configured issuer
//   - exp / nbf: checked with a small clock-skew tolerance
//   - uid: the user id (required)
//   - role: "user" (default when absent), "admin" or "superadmin", case-insensitive
//
// A Verifier built without a public key is disabled: every bearer is treated as
// absent and connections stay anonymous.
package auth
