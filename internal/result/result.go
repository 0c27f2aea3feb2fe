// Package result provides the railway-style Result type that carries values
// through the security mediation pipeline. A failure produced at any stage
// passes through all later stages unchanged; branching happens only at the
// outermost boundary.
package result

import (
	"fmt"
	"time"
)

// ErrorKind is a stable, caller-visible failure classification.
type ErrorKind string

const (
	// Credential-level.
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindInvalidTOTP        ErrorKind = "INVALID_TOTP"

	// Session-level.
	KindSessionNotFound        ErrorKind = "SESSION_NOT_FOUND"
	KindSessionExpired         ErrorKind = "SESSION_EXPIRED"
	KindConcurrentSessionLimit ErrorKind = "CONCURRENT_SESSION_LIMIT"
	KindSessionCreationFailed  ErrorKind = "SESSION_CREATION_FAILED"

	// Traffic control.
	KindRateLimitExceeded ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindBrokerUnavailable ErrorKind = "BROKER_UNAVAILABLE"

	// Security pipeline.
	KindAuthenticationFailed ErrorKind = "AUTHENTICATION_FAILED"
	KindAuthorizationDenied  ErrorKind = "AUTHORIZATION_DENIED"
	KindHighRiskBlocked      ErrorKind = "HIGH_RISK_BLOCKED"

	// System.
	KindOperationFailed  ErrorKind = "OPERATION_FAILED"
	KindSystemError      ErrorKind = "SYSTEM_ERROR"
	KindEncryptionFailed ErrorKind = "ENCRYPTION_FAILED"
	KindDecryptionFailed ErrorKind = "DECRYPTION_FAILED"
)

// Failure describes why an operation did not produce a value. Message is
// sanitized for external callers; raw secrets and internal error text must
// never be placed in it. RetryAfter is a hint set only for retriable kinds.
type Failure struct {
	Kind          ErrorKind
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
}

// Error implements the error interface so a Failure can travel through
// error-returning layers without losing its kind.
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Retriable reports whether the caller may retry after a backoff.
func (f *Failure) Retriable() bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case KindRateLimitExceeded, KindBrokerUnavailable, KindOperationFailed:
		return true
	}
	return false
}

// Result is a tagged union: either a success value or a Failure.
// The zero value is a success holding T's zero value; construct with Ok or Err.
type Result[T any] struct {
	value   T
	failure *Failure
}

// Ok returns a success Result holding v.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err returns a failure Result with the given kind and sanitized message.
func Err[T any](kind ErrorKind, message string) Result[T] {
	return Result[T]{failure: &Failure{Kind: kind, Message: message}}
}

// ErrFrom returns a failure Result carrying an existing Failure unchanged.
// Used by later pipeline stages to propagate an earlier stage's failure.
func ErrFrom[T any](f *Failure) Result[T] {
	if f == nil {
		return Err[T](KindSystemError, "nil failure propagated")
	}
	return Result[T]{failure: f}
}

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool { return r.failure == nil }

// Value returns the held value; meaningful only when IsOk.
func (r Result[T]) Value() T { return r.value }

// Failure returns the held Failure, or nil on success.
func (r Result[T]) Failure() *Failure { return r.failure }

// Unwrap returns both arms; exactly one is meaningful.
func (r Result[T]) Unwrap() (T, *Failure) { return r.value, r.failure }

// Map applies fn to the value of a success Result; a failure passes through
// unchanged.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.failure != nil {
		return ErrFrom[U](r.failure)
	}
	return Ok(fn(r.value))
}

// FlatMap chains a Result-producing fn onto a success Result; a failure
// passes through unchanged. This is the composition primitive for pipeline
// stages.
func FlatMap[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.failure != nil {
		return ErrFrom[U](r.failure)
	}
	return fn(r.value)
}

// Recover applies fn to a failure of the given kind, allowing the outermost
// boundary to substitute a fallback. Failures of other kinds and successes
// pass through unchanged; interior stages must not call this for failures
// they did not produce.
func (r Result[T]) Recover(kind ErrorKind, fn func(*Failure) Result[T]) Result[T] {
	if r.failure == nil || r.failure.Kind != kind {
		return r
	}
	return fn(r.failure)
}

// WithCorrelationID returns the Result with the failure's correlation id set;
// a success is returned unchanged.
func (r Result[T]) WithCorrelationID(id string) Result[T] {
	if r.failure == nil || r.failure.CorrelationID != "" {
		return r
	}
	f := *r.failure
	f.CorrelationID = id
	return Result[T]{failure: &f}
}
