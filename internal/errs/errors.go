// Package errs provides the unified error type used across recordbase.
//
// Every subsystem (database drivers, query compiler, change capture, server, …)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindStoreUnavailable, "database is locked", sqliteErr)
//
//	// In a handler, check the error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (SQLite, Postgres, MySQL, MinIO, …) map their native errors to
// one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // unknown table, relation or row
	ErrKindInvalidFilter            // malformed filter, cursor, limit or offset
	ErrKindInvalidSort              // unknown sort column or malformed sort term
	ErrKindInvalidInput             // bad record payload or identifier
	ErrKindAccessDenied             // caller may not read / write the table
	ErrKindExpansionDenied          // caller may not read an expanded relation
	ErrKindConflict                 // unique / foreign key constraint violation
	ErrKindStoreUnavailable         // store busy, locked or unreachable
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindSequenceGap              // change stream lost an event
	ErrKindQueryFailed              // any other store-side failure
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindInvalidFilter:
		return "invalid_filter"
	case ErrKindInvalidSort:
		return "invalid_sort"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindAccessDenied:
		return "access_denied"
	case ErrKindExpansionDenied:
		return "expansion_denied"
	case ErrKindConflict:
		return "conflict"
	case ErrKindStoreUnavailable:
		return "store_unavailable"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindSequenceGap:
		return "sequence_gap"
	case ErrKindQueryFailed:
		return "query_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all recordbase subsystems.
// Producers fill it; callers inspect it via the Is* predicates below.
//
// Message is safe to show to untrusted callers and never contains query text.
// Cause is the original low-level error, preserved for logging only.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// PublicError is the structured, caller-facing rendering of an error.
type PublicError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Public returns the caller-facing form of e. The cause is dropped.
func (e *Error) Public() PublicError {
	return PublicError{Kind: e.Kind.String(), Message: e.Message}
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithContext re-wraps err with a "table/op" prefix on its message so store
// failures stay actionable. Non-*Error values become ErrKindQueryFailed with
// a generic message; the original error is kept as the cause.
func WithContext(err error, table, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Kind:    e.Kind,
			Message: fmt.Sprintf("%s %s: %s", op, table, e.Message),
			Cause:   e.Cause,
		}
	}
	return &Error{
		Kind:    ErrKindQueryFailed,
		Message: fmt.Sprintf("%s %s: store operation failed", op, table),
		Cause:   err,
	}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsInvalidFilter reports whether err was caused by a malformed filter.
func IsInvalidFilter(err error) bool {
	return KindOf(err) == ErrKindInvalidFilter
}

// IsInvalidSort reports whether err was caused by a malformed sort.
func IsInvalidSort(err error) bool {
	return KindOf(err) == ErrKindInvalidSort
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsAccessDenied reports whether err is an access control failure.
func IsAccessDenied(err error) bool {
	return KindOf(err) == ErrKindAccessDenied
}

// IsExpansionDenied reports whether an expansion target was not readable.
func IsExpansionDenied(err error) bool {
	return KindOf(err) == ErrKindExpansionDenied
}

// IsConflict reports whether err is a constraint violation.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// IsStoreUnavailable reports whether the store was busy or unreachable.
func IsStoreUnavailable(err error) bool {
	return KindOf(err) == ErrKindStoreUnavailable
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsSequenceGap reports whether a change stream detected a lost event.
func IsSequenceGap(err error) bool {
	return KindOf(err) == ErrKindSequenceGap
}

// IsQueryFailed reports whether err is an otherwise unclassified store failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// Retryable reports whether a caller may retry the operation with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindStoreUnavailable, ErrKindTimeout:
		return true
	default:
		return false
	}
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// AsError returns err as an *Error, wrapping unknown errors as
// ErrKindUnknown with a generic message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrKindUnknown, "internal error", err)
}
