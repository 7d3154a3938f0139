package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors surfaced to the host
type ErrorCode string

const (
	// ErrCodeBackendUnavailable indicates commit/revert could not be completed.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// ErrCodeBackendProtocol indicates the backend answered but reported a failure.
	ErrCodeBackendProtocol ErrorCode = "BACKEND_PROTOCOL_ERROR"

	// ErrCodeMissingCheckpoint indicates a revert for a unit with no index entry.
	ErrCodeMissingCheckpoint ErrorCode = "MISSING_CHECKPOINT"

	// ErrCodeConcurrentCycle indicates an event arrived while another cycle was in flight.
	ErrCodeConcurrentCycle ErrorCode = "CONCURRENT_CYCLE_CONFLICT"

	// ErrCodeUnknownUnit indicates the unit is not part of the host document.
	ErrCodeUnknownUnit ErrorCode = "UNKNOWN_UNIT"

	// ErrCodeHostFailure indicates the host could not be asked to run a unit.
	ErrCodeHostFailure ErrorCode = "HOST_FAILURE"
)

// Error is a coded error carrying the unit it concerns
type Error struct {
	Code    ErrorCode
	Message string
	UnitID  string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.UnitID != "" {
		msg = fmt.Sprintf("%s (unit=%s)", msg, e.UnitID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a coded error
func NewError(code ErrorCode, unitID, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		UnitID:  unitID,
		Err:     cause,
	}
}

// CodeOf returns the code of the first coded error in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsMissingCheckpoint returns true if err is a missing checkpoint error
func IsMissingCheckpoint(err error) bool {
	return CodeOf(err) == ErrCodeMissingCheckpoint
}

// IsBackendFailure returns true for unavailable and protocol errors alike,
// which share the same fail-closed policy.
func IsBackendFailure(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeBackendUnavailable || code == ErrCodeBackendProtocol
}
