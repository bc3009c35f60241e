package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeControlChannel    ErrorCode = "CONTROL_CHANNEL_ERROR"
	ErrCodeDomainTimeout     ErrorCode = "DOMAIN_TIMEOUT"
	ErrCodeAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrCodeReadyTimeout      ErrorCode = "READY_TIMEOUT"
	ErrCodeLeaveFailed       ErrorCode = "LEAVE_FAILED"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewControlChannelError(cause error) *AppError {
	return WrapError(cause, ErrCodeControlChannel, "mrp control channel failure", http.StatusBadGateway)
}

func NewDomainTimeoutError(cause error) *AppError {
	return WrapError(cause, ErrCodeDomainTimeout, "srp domain not announced in time", http.StatusGatewayTimeout)
}

func NewAdmissionRejectedError(cause error) *AppError {
	return WrapError(cause, ErrCodeAdmissionRejected, "stream reservation rejected", http.StatusConflict)
}

func NewReadyTimeoutError(cause error) *AppError {
	return WrapError(cause, ErrCodeReadyTimeout, "peer readiness not observed in time", http.StatusGatewayTimeout)
}

func NewLeaveFailedError(step string, cause error) *AppError {
	return WrapError(cause, ErrCodeLeaveFailed, fmt.Sprintf("leave step %s failed", step), http.StatusInternalServerError).
		WithContext("step", step)
}

func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrCodeInvalidState, message, http.StatusConflict)
}

func NewInvalidConfigError(message string) *AppError {
	return NewAppError(ErrCodeInvalidConfig, message, http.StatusBadRequest)
}

func NewBadRequestError(message string) *AppError {
	return NewAppError(ErrCodeBadRequest, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
