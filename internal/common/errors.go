// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("document update conflict")

	// Service layer errors.
	ErrValidation         = errors.New("validation failed")
	ErrNoHousehold        = errors.New("household id is not set")
	ErrPartialConsistency = errors.New("partial write: balance and transaction out of step")

	// Replication errors.
	ErrOffline      = errors.New("no network")
	ErrConnectivity = errors.New("remote unreachable")
	ErrAuthToken    = errors.New("auth token unavailable")

	// Guest migration errors.
	ErrMigration = errors.New("guest migration failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Invalid builds a validation error for a single field.
func Invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConnectivity) ||
		errors.Is(err, ErrOffline) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
