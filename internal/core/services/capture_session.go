package services

import (
	"context"
	"errors"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/pkg/tracing"

	"go.uber.org/zap"
)

type CaptureConfig struct {
	Width  int
	Height int
}

// CaptureSession owns at most one live stream bound to the selected devices.
type CaptureSession struct {
	devices ports.MediaDevices
	cfg     CaptureConfig
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	stream ports.MediaStream
	bound  domain.DeviceSelection
}

func NewCaptureSession(devices ports.MediaDevices, cfg CaptureConfig, logger *zap.SugaredLogger) *CaptureSession {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	return &CaptureSession{
		devices: devices,
		cfg:     cfg,
		logger:  logger,
	}
}

// Acquire releases the current stream and binds a new one for sel. On success
// it returns the selection actually bound, which may differ from sel when the
// platform substituted defaults. On failure no stream is held.
func (s *CaptureSession) Acquire(ctx context.Context, sel domain.DeviceSelection) (ports.MediaStream, domain.DeviceSelection, error) {
	ctx, span := tracing.TraceCapture(ctx, sel.VideoDeviceID, sel.AudioDeviceID)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Release first so two streams never hold the same device.
	s.releaseLocked()

	constraints := ports.Constraints{
		Video: ports.VideoConstraints{DeviceID: sel.VideoDeviceID, Width: s.cfg.Width, Height: s.cfg.Height},
		Audio: ports.AudioConstraints{DeviceID: sel.AudioDeviceID},
	}

	stream, err := s.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		ports.StopTracks(stream)
		classified := s.classify(err)
		tracing.RecordError(ctx, classified)
		s.logger.Warnw("capture acquisition failed",
			"video_device_id", sel.VideoDeviceID,
			"audio_device_id", sel.AudioDeviceID,
			"error", classified,
		)
		return nil, domain.DeviceSelection{}, classified
	}

	bound := domain.DeviceSelection{}
	hasVideo := false
	for _, t := range stream.Tracks() {
		switch t.Kind() {
		case ports.TrackVideo:
			bound.VideoDeviceID = t.DeviceID()
			hasVideo = true
		case ports.TrackAudio:
			bound.AudioDeviceID = t.DeviceID()
		}
	}
	if !hasVideo {
		ports.StopTracks(stream)
		return nil, domain.DeviceSelection{}, domain.NewCaptureError("NotFoundError", errors.New("stream has no video track"))
	}

	s.stream = stream
	s.bound = bound

	s.logger.Infow("capture stream acquired",
		"stream_id", stream.ID(),
		"video_device_id", bound.VideoDeviceID,
		"audio_device_id", bound.AudioDeviceID,
		"substituted", bound != sel,
	)
	return stream, bound, nil
}

// Stream returns the live stream, or nil.
func (s *CaptureSession) Stream() ports.MediaStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

func (s *CaptureSession) Bound() domain.DeviceSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// Release stops every track of the current stream. Safe to call with no stream.
func (s *CaptureSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *CaptureSession) releaseLocked() {
	if s.stream == nil {
		return
	}
	ports.StopTracks(s.stream)
	s.logger.Debugw("capture stream released", "stream_id", s.stream.ID())
	s.stream = nil
	s.bound = domain.DeviceSelection{}
}

func (s *CaptureSession) classify(err error) error {
	var serr *domain.StreamError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCaptureError("AbortError", err)
	}

	var perr *ports.PlatformError
	if !errors.As(err, &perr) {
		return domain.NewCaptureError("UnknownError", err)
	}

	switch perr.Name {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return domain.NewPermissionError(perr.Name, err)
	case "ConstraintNotSatisfiedError", "OverconstrainedError":
		return domain.NewConstraintError(perr.Name, s.cfg.Width, s.cfg.Height, err)
	default:
		return domain.NewCaptureError(perr.Name, err)
	}
}
