package domain

import (
	"errors"
	"fmt"
)

// Error kinds. A *StreamError matches its kind with errors.Is.
var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrConstraintNotSatisfied = errors.New("constraint not satisfied")
	ErrCaptureFailed          = errors.New("capture failed")
	ErrTransportFailed        = errors.New("transport failed")
	ErrEncoderUnsupported     = errors.New("encoder unsupported")
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrUnknownDeviceKind = errors.New("unknown device kind")
	ErrEncoderBusy       = errors.New("encoder already active for this capture session")
	ErrNoLiveStream      = errors.New("no live capture stream")
	ErrLinkClosed        = errors.New("relay link closed")
)

// StreamError is the only error shape that crosses from the pipeline into the
// status projection. Message is safe to show to an operator.
type StreamError struct {
	Kind    error
	Name    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

func (e *StreamError) Is(target error) bool {
	return target == e.Kind
}

const permissionExplanation = "Permissions have not been granted to use your camera and microphone, " +
	"you need to allow access to your devices in order to stream."

func NewPermissionError(name string, cause error) *StreamError {
	if name == "" {
		name = "NotAllowedError"
	}
	return &StreamError{
		Kind:    ErrPermissionDenied,
		Name:    name,
		Message: name + ": " + permissionExplanation,
		Cause:   cause,
	}
}

func NewConstraintError(name string, width, height int, cause error) *StreamError {
	return &StreamError{
		Kind:    ErrConstraintNotSatisfied,
		Name:    name,
		Message: fmt.Sprintf("%s: The resolution %dx%d px is not supported by your device.", name, width, height),
		Cause:   cause,
	}
}

func NewCaptureError(name string, cause error) *StreamError {
	msg := name
	if msg == "" {
		msg = "CaptureError"
	}
	return &StreamError{
		Kind:    ErrCaptureFailed,
		Name:    name,
		Message: msg,
		Cause:   cause,
	}
}

func NewTransportError(op string, cause error) *StreamError {
	msg := "TransportError: " + op
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &StreamError{
		Kind:    ErrTransportFailed,
		Name:    "TransportError",
		Message: msg,
		Cause:   cause,
	}
}

func NewEncoderUnsupportedError(formats []ContainerFormat) *StreamError {
	return &StreamError{
		Kind:    ErrEncoderUnsupported,
		Name:    "EncoderUnsupportedError",
		Message: fmt.Sprintf("EncoderUnsupportedError: none of %v is supported by the recorder", formats),
	}
}

// KindName returns a short label for metrics, e.g. "permission".
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrConstraintNotSatisfied):
		return "constraint"
	case errors.Is(err, ErrCaptureFailed):
		return "capture"
	case errors.Is(err, ErrTransportFailed):
		return "transport"
	case errors.Is(err, ErrEncoderUnsupported):
		return "encoder_unsupported"
	default:
		return "other"
	}
}
