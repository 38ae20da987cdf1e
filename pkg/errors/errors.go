package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"rillcast/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidState           ErrorCode = "INVALID_STATE"
	ErrCodeRateLimit              ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodePermissionDenied       ErrorCode = "PERMISSION_DENIED"
	ErrCodeConstraintNotSatisfied ErrorCode = "CONSTRAINT_NOT_SATISFIED"
	ErrCodeCaptureFailed          ErrorCode = "CAPTURE_FAILED"
	ErrCodeTransportFailed        ErrorCode = "TRANSPORT_FAILED"
	ErrCodeEncoderUnsupported     ErrorCode = "ENCODER_UNSUPPORTED"
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

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrCodeInvalidState, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// FromDomain maps pipeline errors to their HTTP representation. The message of
// a classified stream error is the user-facing text shown as lastError.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	var msg string
	var serr *domain.StreamError
	if stderrors.As(err, &serr) {
		msg = serr.Message
	} else {
		msg = err.Error()
	}

	switch {
	case stderrors.Is(err, domain.ErrPermissionDenied):
		return WrapError(err, ErrCodePermissionDenied, msg, http.StatusForbidden)
	case stderrors.Is(err, domain.ErrConstraintNotSatisfied):
		return WrapError(err, ErrCodeConstraintNotSatisfied, msg, http.StatusUnprocessableEntity)
	case stderrors.Is(err, domain.ErrEncoderUnsupported):
		return WrapError(err, ErrCodeEncoderUnsupported, msg, http.StatusNotImplemented)
	case stderrors.Is(err, domain.ErrTransportFailed):
		return WrapError(err, ErrCodeTransportFailed, msg, http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrCaptureFailed):
		return WrapError(err, ErrCodeCaptureFailed, msg, http.StatusInternalServerError)
	case stderrors.Is(err, domain.ErrInvalidTransition), stderrors.Is(err, domain.ErrEncoderBusy):
		appErr := NewInvalidStateError(msg)
		appErr.Cause = err
		return appErr
	case stderrors.Is(err, domain.ErrUnknownDeviceKind):
		return WrapError(err, ErrCodeInvalidInput, msg, http.StatusBadRequest)
	default:
		return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
