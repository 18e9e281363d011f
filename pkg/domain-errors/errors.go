// Package domainerrors provides coded errors that travel from services to the
// transport layer. Stores return sentinel errors (pkg/platform/sentinel);
// services translate those facts into coded errors here; the HTTP layer maps
// codes onto statuses and a JSON error body.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error. The string value is the wire
// form used in the "error" field of HTTP error responses.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"

	// Enrichment taxonomy. These surface per-profile in batch responses and
	// decide whether a charge occurred.
	CodeInsufficientCredit Code = "insufficient_credit"
	CodeVendorUnavailable  Code = "vendor_unavailable"
	CodeVendorTimeout      Code = "vendor_timeout"
	CodeVendorError        Code = "vendor_error"
	CodeCacheCorruption    Code = "cache_corruption"
)

// Error is a coded domain error. It may wrap an underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match two coded errors by code and message,
// ignoring wrapped causes. A target with an empty message matches on
// code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/errors.As chains. A nil err behaves like New.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// Is is a readability alias for HasCode, for use in tests and handlers.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf extracts the code of the first coded error in the chain, or
// CodeInternal when the error carries no code.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
