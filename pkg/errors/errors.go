package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for HTTP mapping and retry decisions.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeIdempotency     Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit       Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeDependency      Code = "DEPENDENCY_ERROR"
)

// Metadata is what the HTTP layer needs to render a code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ClientMessage lets the typed error's own message reach the caller.
	ClientMessage bool
}

// Conflicts are retryable: a drain already running or an order-number race both
// clear on their own.
var metadataByCode = map[Code]Metadata{
	CodeValidation:      {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ClientMessage: true},
	CodePayloadTooLarge: {HTTPStatus: http.StatusRequestEntityTooLarge, PublicMessage: "request body too large", DetailsAllowed: true, ClientMessage: true},
	CodeUnauthorized:    {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ClientMessage: true},
	CodeForbidden:       {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", ClientMessage: true},
	CodeNotFound:        {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ClientMessage: true},
	CodeConflict:        {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "conflict detected", ClientMessage: true},
	CodeIdempotency:     {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key conflict", DetailsAllowed: true, ClientMessage: true},
	CodeRateLimit:       {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "rate limit exceeded", ClientMessage: true},
	CodeInternal:        {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:      {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
}

// MetadataFor returns the metadata for code, falling back to CodeInternal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error carried from services to handlers.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Error renders "CODE: message", followed by the cause when there is one, so
// CLI output and logs keep the underlying driver error.
func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsRetryable reports whether the caller may repeat the request unchanged.
// Untyped errors are treated as internal and therefore retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	code := CodeInternal
	if typed := As(err); typed != nil {
		code = typed.Code()
	}
	return MetadataFor(code).Retryable
}

// HasCode reports whether err carries a typed error with the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
