// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidVersion    = errors.New("engine version not replayable")
	ErrInvalidChecksum   = errors.New("checksum mismatch")
	ErrInvalidLog        = errors.New("invalid trade log")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrDivideByZero      = errors.New("division by zero")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDatabaseError     = errors.New("database error")
)

// Replay result codes. They travel over the wire to clients, so the
// string values are part of the protocol.
const (
	CodeOK              = "OK"
	CodeInvalidVersion  = "INVALID_VERSION"
	CodeInvalidChecksum = "INVALID_CHECKSUM"
	CodeInvalidLog      = "INVALID_LOG"
	CodeMismatch        = "MISMATCH"
)

// ReplayError is returned when a session cannot be trusted or replayed.
type ReplayError struct {
	Code    string
	Message string
	Err     error
}

func (e *ReplayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("replay error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("replay error [%s]: %s", e.Code, e.Message)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// NewReplayError creates a new ReplayError.
func NewReplayError(code, message string, err error) *ReplayError {
	return &ReplayError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the replay code carried by err, or "" if err is not a ReplayError.
func CodeOf(err error) string {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID      string
	InstrumentID int
	Action       string
	Reason       string
	Err          error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s #%d: %s: %v", e.OrderID, e.Action, e.InstrumentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s #%d: %s", e.OrderID, e.Action, e.InstrumentID, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID string, instrumentID int, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID:      orderID,
		InstrumentID: instrumentID,
		Action:       action,
		Reason:       reason,
		Err:          err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
