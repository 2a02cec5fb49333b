package errors

import (
	"errors"
	"fmt"
)

// Common error types for the chat and session sync services
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Sync errors
	ErrMalformedMessage = errors.New("malformed sync message")
	ErrNoReceiver       = errors.New("could not establish connection: receiving end does not exist")
	ErrProviderRejected = errors.New("identity provider rejected session")

	// Chat errors
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrMissingSessionID = errors.New("missing session id")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUpstream         = errors.New("upstream error")
	ErrRateLimited      = errors.New("rate limit exceeded")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
