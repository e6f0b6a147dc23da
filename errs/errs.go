// Package errs provides structured error types and helpers for marketplace services.
package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Code identifies a marketplace error category. Every abort condition in the
// order lifecycle maps to exactly one code so callers can test failure reasons
// independently.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnauthorized indicates the caller lacks the required identity or approval.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotPublished indicates no active order exists for the asset.
	CodeNotPublished Code = "not_published"
	// CodeExpired indicates the order's expiration timestamp has passed.
	CodeExpired Code = "order_expired"
	// CodePriceMismatch indicates the caller-supplied price differs from the listed price.
	CodePriceMismatch Code = "price_mismatch"
	// CodeStaleOwner indicates the seller no longer owns the listed asset.
	CodeStaleOwner Code = "stale_owner"
	// CodeInvalidRegistry indicates the registry address is not a supported asset registry.
	CodeInvalidRegistry Code = "invalid_registry"
	// CodeFingerprint indicates the supplied asset fingerprint failed verification.
	CodeFingerprint Code = "fingerprint_mismatch"
	// CodeTransferFailed indicates a token or asset transfer was refused by an adapter.
	CodeTransferFailed Code = "transfer_failed"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeInternal indicates an unexpected infrastructure failure.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the marketplace stack.
type E struct {
	// Scope names the component and operation that raised the error, e.g. "market/execute".
	Scope   string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:   strings.TrimSpace(scope),
		Code:    code,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target carries the same code, letting callers match
// failure categories with errors.Is.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && (other.Scope == "" || other.Scope == e.Scope)
}

// CodeOf extracts the marketplace error code from err, returning CodeInternal
// for foreign errors and the empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a marketplace error to the HTTP status surfaced by the API layer.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case CodeInvalid, CodeInvalidRegistry, CodeFingerprint, CodePriceMismatch, CodeExpired, CodeStaleOwner:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotPublished, CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTransferFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
