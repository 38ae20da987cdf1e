package ports

import (
	"context"
	"fmt"

	"rillcast/internal/core/domain"
)

// MediaDeviceInfo is a raw entry as reported by the platform. Kind is the
// platform's own string and may name kinds the catalog does not know.
type MediaDeviceInfo struct {
	DeviceID string
	Kind     string
	Label    string
}

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

type VideoConstraints struct {
	DeviceID string
	Width    int
	Height   int
}

type AudioConstraints struct {
	DeviceID string
}

type Constraints struct {
	Video VideoConstraints
	Audio AudioConstraints
}

// MediaDevices is the platform capture API.
type MediaDevices interface {
	EnumerateDevices(ctx context.Context) ([]MediaDeviceInfo, error)
	// GetUserMedia may prompt for permission and block for an unbounded time.
	// Implementations must not leave tracks open when they return an error.
	GetUserMedia(ctx context.Context, constraints Constraints) (MediaStream, error)
}

type MediaTrack interface {
	Kind() TrackKind
	// DeviceID is the device actually bound, which may differ from the request.
	DeviceID() string
	Label() string
	Live() bool
	Stop()
}

type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// StopTracks stops every track of the stream.
func StopTracks(stream MediaStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

type RecorderOptions struct {
	MimeType           domain.ContainerFormat
	VideoBitsPerSecond int
	Width              int
	Height             int
	FrameRate          int
}

// Recorder encodes a live stream. Flush drains the bytes encoded since the
// previous call. Flush and Stop may be called from different goroutines.
type Recorder interface {
	Start() error
	Flush() ([]byte, error)
	Stop() error
}

type RecorderFactory interface {
	IsTypeSupported(mimeType domain.ContainerFormat) bool
	NewRecorder(stream MediaStream, opts RecorderOptions) (Recorder, error)
}

// Platform bundles the capture and encode halves of a backend.
type Platform interface {
	MediaDevices
	RecorderFactory
}

// PlatformError is a named failure from the capture platform. Names follow the
// browser taxonomy: NotAllowedError, NotFoundError, NotReadableError,
// ConstraintNotSatisfiedError, OverconstrainedError.
type PlatformError struct {
	Name       string
	Message    string
	Constraint string
	Err        error
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}
