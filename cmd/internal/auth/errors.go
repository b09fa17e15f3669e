package auth

import "errors"

var (
	// ErrInvalidToken is returned when a bearer fails verification or carries no uid.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoToken is returned when the request carries no bearer at all.
	ErrNoToken = errors.New("no token")

	// ErrForbidden is returned when a verified identity lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)
