package model

import (
	"errors"
	"fmt"
)

// Sentinel lookup errors shared by the registries and their callers.
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrMachineNotFound = errors.New("machine not found")
)

// ConfigError reports a malformed material table, machine list, or strategy
// name. It is fatal at load time and never occurs mid-run.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Msg
}

// ProtocolError reports a malformed frame, connection loss, or request
// timeout on a machine connection.
type ProtocolError struct {
	MachineID string
	Op        string
	Timeout   bool
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("protocol: %s %s: timeout", e.MachineID, e.Op)
	}
	return fmt.Sprintf("protocol: %s %s: %v", e.MachineID, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError is returned when a command or status change is
// attempted from a disallowed machine or task state.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
	}
	return fmt.Sprintf("invalid %s transition: %s -> %s (%s %s)", e.Entity, e.From, e.To, e.Entity, e.ID)
}

// DispatchError reports that a command was sent to a machine but rejected or
// timed out. It drives the task retry counter.
type DispatchError struct {
	TaskID    string
	MachineID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch task %s to %s: %v", e.TaskID, e.MachineID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// SchedulingError wraps a lower-level error with task/machine context for
// observability. The scheduling loop logs these and continues.
type SchedulingError struct {
	TaskID    string
	MachineID string
	Err       error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule task %s on %s: %v", e.TaskID, e.MachineID, e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is (or wraps) a protocol timeout.
func IsTimeout(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Timeout
}

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the REST API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{Code: ErrNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// NewConflictError creates a CONFLICT APIError.
func NewConflictError(msg string) *APIError {
	return &APIError{Code: ErrConflict, Message: msg}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}
