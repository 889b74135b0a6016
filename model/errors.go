package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrInvalidIdentifier = "INVALID_IDENTIFIER"
	ErrDuplicateStyle    = "DUPLICATE_STYLE"
	ErrPersistence       = "PERSISTENCE_ERROR"
	ErrInvalidArgument   = "INVALID_ARGUMENT"
	ErrUpstream          = "UPSTREAM_ERROR"
)

// ErrorEnvelope is the standard error response envelope. It implements the
// error interface and may wrap the cause that produced it.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	// Op names the operation that failed. Logged, never serialized.
	Op    string `json:"-"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ErrorEnvelope) Unwrap() error {
	return e.Cause
}

// Reason returns the code of the first field detail, or "".
func (e *ErrorEnvelope) Reason() string {
	if len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Code
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error whose single
// detail names the offending field and the reason code.
func NewInvalidTransitionError(field, reason, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidTransition,
		Message: msg,
		Details: []FieldError{{Field: field, Code: reason, Message: msg}},
	}
}

// NewInvalidIdentifierError returns an INVALID_IDENTIFIER error.
func NewInvalidIdentifierError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidIdentifier,
		Message: fmt.Sprintf("%q is not a valid identifier", id),
	}
}

// NewDuplicateStyleError returns a DUPLICATE_STYLE error.
func NewDuplicateStyleError(styleID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicateStyle,
		Message: fmt.Sprintf("a workflow for style %q already exists", styleID),
	}
}

// NewPersistenceError wraps a storage failure raised by op.
func NewPersistenceError(op string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPersistence,
		Message: "A storage error occurred",
		Op:      op,
		Cause:   cause,
	}
}

// NewInvalidArgumentError returns an INVALID_ARGUMENT error.
func NewInvalidArgumentError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidArgument, Message: msg}
}

// NewUpstreamError wraps a failed call to an upstream service.
func NewUpstreamError(op string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstream,
		Message: "An upstream service is unavailable",
		Op:      op,
		Cause:   cause,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// CodeOf returns the envelope code of err, or "" when err is not an envelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
