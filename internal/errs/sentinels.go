// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	// Every token and credential failure matches it via errors.Is.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken indicates a malformed, tampered or expired bearer token.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)

	// ErrUnknownSubject indicates a valid token whose subject has no user record.
	ErrUnknownSubject = fmt.Errorf("%w: unknown subject", ErrUnauthorized)

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates input rejected before reaching storage.
	ErrValidation = errors.New("validation")

	// ErrStorageUnavailable indicates the storage backend could not be reached.
	// The gateway stays retryable after it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrClosed indicates an operation on a gateway that has been closed.
	ErrClosed = errors.New("storage closed")
)

// Validationf returns an ErrValidation-wrapped error with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
