package quickfood

import "errors"

// Error taxonomy shared by all packages. Callers match with errors.Is.
var (
	// ErrUnauthenticated means no credential, or the server rejected it.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized means the credential is valid but the role is not allowed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetwork is a transient fault unrelated to credential validity.
	ErrNetwork = errors.New("network error")

	// ErrRefreshRejected means the refresh token itself is invalid or expired.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrInvalidCredentials means login was refused.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrConflict means the username or email is already in use.
	ErrConflict = errors.New("username or email already in use")

	// ErrValidation means the server or the client rejected the input.
	ErrValidation = errors.New("validation failed")
)
