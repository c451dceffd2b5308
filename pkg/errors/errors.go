package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so that clones of a sentinel compare equal with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "concurrent update detected")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrStoreUnavailable   = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "store unavailable")
	ErrRateLimited        = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrDuplicateRequest   = New("DUPLICATE_REQUEST", http.StatusConflict, "request with this idempotency key is in progress")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "invalid status transition")
	ErrSlotUnavailable     = New("SLOT_UNAVAILABLE", http.StatusConflict, "appointment slot is not available")
	ErrSlotRequired        = New("SLOT_REQUIRED", http.StatusBadRequest, "appointment slot is required")
	ErrPaymentRequired     = New("PAYMENT_REQUIRED", http.StatusPaymentRequired, "payment has not been completed")
	ErrDocumentsIncomplete = New("DOCUMENTS_INCOMPLETE", http.StatusConflict, "documents are not all verified")
	ErrDocumentsMissing    = New("DOCUMENTS_MISSING", http.StatusConflict, "required documents are missing")
	ErrProfileLocked       = New("PROFILE_LOCKED", http.StatusLocked, "profile is locked")
	ErrProfileIncomplete   = New("PROFILE_INCOMPLETE", http.StatusUnprocessableEntity, "profile is incomplete")
	ErrDeclarationRequired = New("DECLARATION_REQUIRED", http.StatusUnprocessableEntity, "declaration must be accepted")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// IsRetryable reports whether the caller may re-read and re-apply the operation.
// Only store availability and write conflicts qualify; rule violations never do.
func IsRetryable(err error) bool {
	return HasCode(err, ErrStoreUnavailable.Code) || HasCode(err, ErrConflict.Code)
}
