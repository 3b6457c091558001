package auth

import "errors"

var (
	// ErrInvalidCredentials covers every login denial: unknown email, wrong
	// password, disabled account. Callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers every refresh/access token denial: absent,
	// malformed, expired or revoked.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
)
