package domain

import (
	"errors"
	"fmt"
)

// OracleErrorKind classifies why the text-completion oracle could not
// produce a reply. The set is closed; the fallback responder is total
// over it.
type OracleErrorKind string

const (
	// OracleUnconfigured means no usable credential is present (missing
	// or placeholder API key). No network call was made.
	OracleUnconfigured OracleErrorKind = "unconfigured"
	// OracleUnauthorized maps a 401 from the provider.
	OracleUnauthorized OracleErrorKind = "unauthorized"
	// OracleRateLimited maps a 429 from the provider.
	OracleRateLimited OracleErrorKind = "rate_limited"
	// OracleQuotaExhausted maps a 402 from the provider.
	OracleQuotaExhausted OracleErrorKind = "quota_exhausted"
	// OracleTransient covers everything else: timeouts, 5xx, transport
	// failures, malformed responses.
	OracleTransient OracleErrorKind = "transient"
)

// OracleError is how oracle adapters report failure. It never reaches an
// API caller: the chat service converts it into a fallback reply.
type OracleError struct {
	Kind OracleErrorKind
	Err  error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oracle error (%s)", e.Kind)
	}
	return fmt.Sprintf("oracle error (%s): %v", e.Kind, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ValidationError reports bad input shape or value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure. Not retried by this core.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

var (
	// ErrNotFound means the session or message does not exist, or does
	// not belong to the caller. Ownership misses are not distinguished
	// from absence.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotActive means the operation is only legal on an active
	// session.
	ErrSessionNotActive = errors.New("session is not active")
)
