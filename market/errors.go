/*
errors.go - Centralized error types for the marketplace

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores return the sentinels; the Ledger and the API layer wrap them in
  *Error so every failure carries a kind (mapped to an HTTP status) and a
  stable machine-readable reason.

ERROR CATEGORIES:
  1. Store errors - Missing records, uniqueness and state conflicts
  2. Domain errors - *Error with a Kind and Reason

USAGE:
    if errors.Is(err, market.ErrBookNotFound) {
        return market.NotFound("book_not_found", "Book not found", err)
    }

SEE ALSO:
  - ledger.go: Wraps store errors with domain context
  - api/handlers.go: writeDomainError maps Kind to status
*/
package market

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrBookNotFound is returned when a referenced book doesn't exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrTransactionNotFound is returned when no transaction matches.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrNotPending is returned by a conditional status update when the
	// transaction already left the pending state. Losing a race on
	// confirmation surfaces as this error.
	ErrNotPending = errors.New("transaction is not pending")

	// ErrSessionAlreadyAttached is returned when a provider session id is
	// written to a transaction that already has one.
	ErrSessionAlreadyAttached = errors.New("transaction already has a session")

	// ErrProviderUnavailable is returned by checkout providers for transport
	// failures and non-success responses.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrUnknownSession is returned by checkout providers for a session id
	// they never issued.
	ErrUnknownSession = errors.New("unknown checkout session")
)

// =============================================================================
// STRUCTURED ERRORS - Carry a kind and a reason
// =============================================================================

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindInternal   Kind = "internal"
)

// Error is a domain failure. Reason is stable across releases and safe to
// show to clients; Message is human-readable; Err is the wrapped cause.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed input.
func Validation(reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(reason, message string) *Error {
	return &Error{Kind: KindAuth, Reason: reason, Message: message}
}

// Forbidden reports an authenticated caller without permission.
func Forbidden(reason, message string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: message}
}

// NotFound reports a missing or foreign record.
func NotFound(reason, message string, err error) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: message, Err: err}
}

// Conflict reports a uniqueness violation.
func Conflict(reason, message string, err error) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message, Err: err}
}

// Upstream reports a failure of an external collaborator.
func Upstream(reason, message string, err error) *Error {
	return &Error{Kind: KindUpstream, Reason: reason, Message: message, Err: err}
}

// Internal reports a store or programming failure.
func Internal(reason, message string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Message: message, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Bare sentinels are mapped so store errors that
// escape unwrapped still produce the right status.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrDuplicateEmail):
		return KindConflict
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrUnknownSession):
		return KindUpstream
	default:
		return KindInternal
	}
}

// ReasonOf returns the stable reason code for err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	switch KindOf(err) {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "provider_unavailable"
	default:
		return "internal_error"
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstream
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuth, KindForbidden, KindNotFound, KindConflict:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNotFound {
		return true
	}
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
