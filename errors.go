// Package gatekit shields callers from a quota-limited upstream API.
//
// This file contains the typed gateway errors. Every failure path of
// Client.Fetch surfaces as one of the sentinel *Error values below, so
// callers branch with errors.Is and map each variant to their own
// backpressure behavior (429-equivalent for quota, 503 for an open circuit,
// and so on).
package gatekit

import (
	"errors"
	"fmt"
)

// Error is a typed gateway failure.
type Error struct {
	// Code identifies the failure class, stable across wrapping.
	Code string
	// Message is a human-readable description.
	Message string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is implements errors.Is for comparing gateway errors by code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of the error carrying cause.
func (e *Error) With(cause error) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.cause = cause
	return &dup
}

// Predefined sentinel errors
var (
	// ErrCircuitOpen means the upstream is known broken; try later.
	ErrCircuitOpen = &Error{Code: "circuit_open", Message: "upstream circuit is open"}

	// ErrQuotaExhausted means a rate-limit token could not be acquired
	// before the deadline; callers should backpressure their own upstream.
	ErrQuotaExhausted = &Error{Code: "quota_exhausted", Message: "upstream call quota exhausted"}

	// ErrRetriesExhausted means every attempt failed transiently; it wraps
	// the last cause.
	ErrRetriesExhausted = &Error{Code: "retries_exhausted", Message: "upstream retries exhausted"}

	// ErrUpstreamPermanent means the upstream rejected the request in a
	// way retrying cannot fix (4xx, malformed response, auth failure).
	ErrUpstreamPermanent = &Error{Code: "upstream_permanent", Message: "upstream permanent error"}

	// ErrCacheUnavailable reports a cache backend failure. The gateway
	// recovers from it internally (degrading to a direct call); it is
	// exported for log inspection, not returned by Fetch.
	ErrCacheUnavailable = &Error{Code: "cache_unavailable", Message: "cache store unavailable"}
)

// AsGatewayError extracts the *Error from err's chain, if any.
func AsGatewayError(err error) (*Error, bool) {
	var gw *Error
	if errors.As(err, &gw) {
		return gw, true
	}
	return nil, false
}
