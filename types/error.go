package types

import "fmt"

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

const (
	ErrCodeBusClosed         ErrorCode = "BUS_CLOSED"
	ErrCodeQueueFull         ErrorCode = "QUEUE_FULL"
	ErrCodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrCodeExecutionFailed   ErrorCode = "EXECUTION_FAILED"
	ErrCodeInvalidWorkflow   ErrorCode = "INVALID_WORKFLOW"
	ErrCodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with a stable code for callers to branch on.
// Expected "not found" conditions on task and workflow lookups (unknown ids,
// operations on terminal records) are signaled by boolean returns; agent
// registry commands report AGENT_NOT_FOUND.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
