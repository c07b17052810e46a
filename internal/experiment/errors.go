package experiment

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes experiment errors.
type ErrorCode string

const (
	// ErrCodeInvalidTransition indicates a control call made from a state that does not permit it.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodeConfiguration indicates an invalid timeline, coefficient or selector.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeTransportFailure indicates a stimulus or collaborator send failed.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"
)

// Error is the structured error returned by the sequencer, actuation engine and config loader.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string

	// State is the run state at the time of an invalid transition, empty otherwise.
	State string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	if e.State != "" {
		msg += fmt.Sprintf(" (state=%s)", e.State)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewInvalidTransition reports that op is not allowed from state.
func NewInvalidTransition(op string, state RunState) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Op:      op,
		Message: fmt.Sprintf("%s not allowed", op),
		State:   state.String(),
	}
}

// NewConfigurationError reports a rejected configuration.
func NewConfigurationError(op, message string) *Error {
	return &Error{Code: ErrCodeConfiguration, Op: op, Message: message}
}

// NewTransportFailure wraps a collaborator send error.
func NewTransportFailure(op string, err error) *Error {
	return &Error{Code: ErrCodeTransportFailure, Op: op, Message: "send failed", Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsInvalidTransition returns true if err is an invalid-transition error.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsConfigurationError returns true if err is a configuration error.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsTransportFailure returns true if err is a transport failure.
func IsTransportFailure(err error) bool {
	return hasCode(err, ErrCodeTransportFailure)
}
