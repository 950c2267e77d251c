package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Retrieval and storage error codes
const (
	ErrEmbeddingFailure    ErrorCode = "EMBEDDING_FAILURE"
	ErrRetrievalTimeout    ErrorCode = "RETRIEVAL_TIMEOUT"
	ErrStorageWriteFailure ErrorCode = "STORAGE_WRITE_FAILURE"
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
)

// Generation and workflow error codes
const (
	ErrAgentGenerationFailure ErrorCode = "AGENT_GENERATION_FAILURE"
	ErrWorkflowStepFailure    ErrorCode = "WORKFLOW_STEP_FAILURE"
	ErrAgentNotFound          ErrorCode = "AGENT_NOT_FOUND"
	ErrChainNotFound          ErrorCode = "CHAIN_NOT_FOUND"
	ErrInvalidRequest         ErrorCode = "INVALID_REQUEST"
	ErrInternalError          ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable. Validation and generation
// failures are never retryable; embedding failures and timeouts are.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
