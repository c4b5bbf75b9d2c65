/*
errors.go - Centralized error types for the accounting engine

PURPOSE:
  All failure modes of the engine in one place. Every error is detected
  synchronously before any state mutation and is classifiable by kind:

    ValidationError          malformed or out-of-range input
    AccountNotFound          unknown account on a read or a sale
    InsufficientBalance      sale exceeds the current balance
    DuplicateIdempotencyKey  replayed write

  No error in this package is retryable; retries, if any, belong to the
  transport layer.

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, milhas.ErrInsufficientBalance) { ... }

    var vErr *milhas.ValidationError
    if errors.As(err, &vErr) { ... }
*/
package milhas

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all bad-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned when a sale asks for more miles
	// than the account holds.
	ErrInsufficientBalance = errors.New("insufficient miles balance")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the
	// same idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which input failed and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a balance shortage on a sale.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient miles on account %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall returns how many miles are missing.
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Requested - e.Available
}

// NotFoundError identifies which account lookup came up empty.
type NotFoundError struct {
	AccountID AccountID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

func (e *NotFoundError) Unwrap() error { return ErrAccountNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
