package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretTooLong = errors.New("webhook secret longer than 256 chars")
	ErrSecretCharset = errors.New("webhook secret has characters outside [A-Za-z0-9_-]")
)
