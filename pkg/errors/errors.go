package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an upstream payload we could not make sense of
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeNetwork indicates the request was sent but no response arrived
	ErrorTypeNetwork ErrorType = "NETWORK"

	// ErrorTypeServer indicates the upstream answered with a non-2xx status
	ErrorTypeServer ErrorType = "SERVER"

	// ErrorTypeAuthentication indicates token acquisition or refresh failed
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION"

	// ErrorTypeCancelled indicates the request was intentionally aborted
	ErrorTypeCancelled ErrorType = "CANCELLED"

	// ErrorTypeClientConfig indicates the request could not be built
	ErrorTypeClientConfig ErrorType = "CLIENT_CONFIG"
)

// AppError represents an application error
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewNetworkError creates an error for a request that never got a response
func NewNetworkError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeNetwork,
		Message: message,
		Err:     err,
	}
}

// NewServerError creates an error carrying the upstream status code
func NewServerError(message string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrorTypeServer,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: 401,
		Err:        err,
	}
}

// NewCancelledError wraps the context error of an aborted request
func NewCancelledError(err error) *AppError {
	if err == nil {
		err = context.Canceled
	}
	return &AppError{
		Type:    ErrorTypeCancelled,
		Message: "request aborted",
		Err:     err,
	}
}

// NewClientConfigError creates an error for a request that could not be built
func NewClientConfigError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeClientConfig,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsCancelled reports whether err stems from an intentional abort.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Type == ErrorTypeCancelled {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}

// IsRetryable reports whether err is a network or server failure worth another attempt.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == ErrorTypeNetwork || appErr.Type == ErrorTypeServer
}

// StatusCodeOf returns the upstream status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
