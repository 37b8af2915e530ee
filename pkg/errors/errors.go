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

// Is matches errors sharing the same code so Clone'd values still satisfy errors.Is.
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
	ErrInvalidCredentials      = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid credentials")
	ErrDeviceMismatch          = New("DEVICE_MISMATCH", http.StatusUnauthorized, "login restricted to the original device")
	ErrAccessExpired           = New("ACCESS_EXPIRED", http.StatusUnauthorized, "access has expired")
	ErrSessionExpired          = New("SESSION_EXPIRED", http.StatusUnauthorized, "session expired")
	ErrTargetIsGuestBucket     = New("TARGET_IS_GUEST_BUCKET", http.StatusForbidden, "cannot evaluate the Guests group")
	ErrSelfEvaluationForbidden = New("SELF_EVALUATION_FORBIDDEN", http.StatusForbidden, "you cannot evaluate your own team")
	ErrNotFound                = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden               = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized            = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict                = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation              = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrStoreTransient          = New("STORE_TRANSIENT", http.StatusServiceUnavailable, "temporarily unavailable, try again")
	ErrStoreInvariant          = New("STORE_INVARIANT_VIOLATION", http.StatusInternalServerError, "something went wrong, try again")
	ErrInternal                = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
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

// Retryable reports whether the caller may safely repeat the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreTransient)
}
