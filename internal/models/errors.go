package models

import (
	"errors"
	"fmt"
)

// ErrNoIdentity is returned by portfolio mutations when no stable user
// identity is available; the store behaves as logged out.
var ErrNoIdentity = errors.New("no user identity: not logged in")

// ValidationError rejects a buy or sell before any state is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError indicates the upstream source has no data for a symbol,
// typically a degenerate all-zero quote. Nothing is cached for it.
type NotFoundError struct {
	Symbol string
}

func (e *NotFoundError) Error() string {
	return "symbol not found: " + e.Symbol
}

// UpstreamErrorKind classifies failures from the market-data source.
type UpstreamErrorKind string

const (
	UpstreamMissingCredentials UpstreamErrorKind = "missing_credentials"
	UpstreamRateLimited        UpstreamErrorKind = "rate_limited"
	UpstreamMalformedPayload   UpstreamErrorKind = "malformed_payload"
	UpstreamTransport          UpstreamErrorKind = "transport"
)

// UpstreamError is a retryable-by-caller failure from the external
// market-data source.
type UpstreamError struct {
	Kind UpstreamErrorKind
	Op   string
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s failed (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s failed (%s)", e.Op, e.Kind)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UpstreamKind extracts the UpstreamError kind from err, or "" when err is
// not an upstream failure.
func UpstreamKind(err error) UpstreamErrorKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// PersistenceError indicates the backing store failed or a snapshot could
// not be encoded or decoded. It never rolls back an already-applied
// in-memory mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
