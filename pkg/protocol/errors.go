package protocol

import (
	"errors"
	"fmt"
)

// Error codes returned in the error envelope of every failed tool call.
// Storage bubbles these up unchanged; the tool surface only scrubs paths.
const (
	// Input validation
	ErrInvalidID       = "INVALID_ID"
	ErrPathEscape      = "PATH_ESCAPE"
	ErrPayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrPayloadTooDeep  = "PAYLOAD_TOO_DEEP"

	// Lookup / existence
	ErrNotFound      = "NOT_FOUND"
	ErrAlreadyExists = "ALREADY_EXISTS"
	ErrConflict      = "CONFLICT"

	// Authorization
	ErrForbidden            = "FORBIDDEN"
	ErrNoPermissionsDefined = "NO_PERMISSIONS_DEFINED"
	ErrInsufficientRead     = "INSUFFICIENT_READ"
	ErrInsufficientWrite    = "INSUFFICIENT_WRITE"

	// Concurrency
	ErrETagMismatch = "ETAG_MISMATCH"
	ErrLockTimeout  = "LOCK_TIMEOUT"

	// Role rules
	ErrCoordinatorHandoverRequired = "COORDINATOR_HANDOVER_REQUIRED"
	ErrHandoffAuthority            = "HANDOFF_AUTHORITY_ERROR"

	// Waits: structured "retry allowed" outcome, not a fatal error
	ErrWaitTimeout = "WAIT_TIMEOUT"

	// Throttling
	ErrRateLimited = "RATE_LIMITED"

	// Everything else
	ErrIO = "IO_ERROR"
)

// Error is the coded error every layer returns. The code is one of the
// Err* constants above and survives wrapping via errors.As.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds a coded error.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches machine-readable details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the error code, or ErrIO for unclassified errors.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrIO
}

// ErrorEnvelope is the JSON error shape of every failed tool response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the code, a human-readable message, and optional
// machine-readable details (e.g. handover candidates).
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
