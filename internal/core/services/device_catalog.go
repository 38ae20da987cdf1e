package services

import (
	"context"
	"errors"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"

	"go.uber.org/zap"
)

// DeviceCatalog discovers capture devices and partitions them by kind.
//
// Platforms only report labels (and sometimes ids) after capture permission has
// been granted at least once, so callers refresh again after every grant.
type DeviceCatalog struct {
	devices ports.MediaDevices
	logger  *zap.SugaredLogger

	mu   sync.RWMutex
	last domain.DeviceList
}

func NewDeviceCatalog(devices ports.MediaDevices, logger *zap.SugaredLogger) *DeviceCatalog {
	return &DeviceCatalog{
		devices: devices,
		logger:  logger,
	}
}

// Refresh re-enumerates the platform and replaces the cached list.
func (c *DeviceCatalog) Refresh(ctx context.Context) (domain.DeviceList, error) {
	infos, err := c.devices.EnumerateDevices(ctx)
	if err != nil {
		return domain.DeviceList{}, classifyEnumerationError(err)
	}

	list := Classify(infos)

	c.mu.Lock()
	c.last = list
	c.mu.Unlock()

	c.logger.Debugw("device catalog refreshed",
		"video_inputs", len(list.VideoInputs),
		"audio_inputs", len(list.AudioInputs),
		"audio_outputs", len(list.AudioOutputs),
	)
	return list, nil
}

// Devices returns the list from the last successful refresh.
func (c *DeviceCatalog) Devices() domain.DeviceList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Classify partitions platform entries into the three known buckets, keeping
// platform order and dropping unknown kinds.
func Classify(infos []ports.MediaDeviceInfo) domain.DeviceList {
	list := domain.DeviceList{
		VideoInputs:  []domain.Device{},
		AudioInputs:  []domain.Device{},
		AudioOutputs: []domain.Device{},
	}
	for _, info := range infos {
		kind, ok := domain.ParseDeviceKind(info.Kind)
		if !ok {
			continue
		}
		d := domain.Device{ID: info.DeviceID, Kind: kind, Label: info.Label}
		switch kind {
		case domain.KindVideoInput:
			list.VideoInputs = append(list.VideoInputs, d)
		case domain.KindAudioInput:
			list.AudioInputs = append(list.AudioInputs, d)
		case domain.KindAudioOutput:
			list.AudioOutputs = append(list.AudioOutputs, d)
		}
	}
	return list
}

func classifyEnumerationError(err error) error {
	var perr *ports.PlatformError
	if errors.As(err, &perr) {
		if perr.Name == "NotAllowedError" || perr.Name == "SecurityError" {
			return domain.NewPermissionError(perr.Name, err)
		}
		return domain.NewCaptureError(perr.Name, err)
	}
	return domain.NewCaptureError("EnumerationError", err)
}
