package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"rillcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())

	wrapped := WrapError(errors.New("original error"), ErrCodeInternal, "wrapped error", 500)
	assert.Contains(t, wrapped.Error(), "original error")
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("device"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewInvalidStateError("x"), ErrCodeInvalidState, http.StatusConflict},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
}

func TestFromDomain(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"permission", domain.NewPermissionError("NotAllowedError", nil), ErrCodePermissionDenied, 403},
		{"constraint", domain.NewConstraintError("OverconstrainedError", 1280, 720, nil), ErrCodeConstraintNotSatisfied, 422},
		{"capture", domain.NewCaptureError("NotReadableError", errors.New("busy")), ErrCodeCaptureFailed, 500},
		{"transport", domain.NewTransportError("handshake failed", errors.New("refused")), ErrCodeTransportFailed, 502},
		{"encoder", domain.NewEncoderUnsupportedError(domain.DefaultFormats), ErrCodeEncoderUnsupported, 501},
		{"invalid transition", domain.ErrInvalidTransition, ErrCodeInvalidState, 409},
		{"encoder busy", domain.ErrEncoderBusy, ErrCodeInvalidState, 409},
		{"unknown kind", fmt.Errorf("select: %w", domain.ErrUnknownDeviceKind), ErrCodeInvalidInput, 400},
		{"other", errors.New("boom"), ErrCodeInternal, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			appErr := FromDomain(tc.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tc.err)
		})
	}
}

func TestFromDomain_UsesUserFacingMessage(t *testing.T) {
	appErr := FromDomain(domain.NewConstraintError("OverconstrainedError", 1280, 720, nil))
	assert.Equal(t, "OverconstrainedError: The resolution 1280x720 px is not supported by your device.", appErr.Message)
}

func TestFromDomain_InvalidStateKeepsCause(t *testing.T) {
	appErr := FromDomain(fmt.Errorf("start: %w", domain.ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	assert.Contains(t, appErr.Message, domain.ErrInvalidTransition.Error())
	assert.ErrorIs(t, appErr, domain.ErrInvalidTransition)
}

func TestFromDomain_Nil(t *testing.T) {
	assert.Nil(t, FromDomain(nil))
}

func TestGetAppError(t *testing.T) {
	appErr := NewInvalidInputError("bad")
	wrapped := fmt.Errorf("handler: %w", appErr)

	assert.Same(t, appErr, GetAppError(wrapped))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Same(t, appErr, FromDomain(wrapped))
}
