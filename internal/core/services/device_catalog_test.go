package services

import (
	"context"
	"errors"
	"testing"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/internal/infrastructure/media/synthetic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingDevices struct {
	err error
}

func (f failingDevices) EnumerateDevices(ctx context.Context) ([]ports.MediaDeviceInfo, error) {
	return nil, f.err
}

func (f failingDevices) GetUserMedia(ctx context.Context, c ports.Constraints) (ports.MediaStream, error) {
	return nil, f.err
}

func TestClassify_PartitionsAndDropsUnknownKinds(t *testing.T) {
	list := Classify([]ports.MediaDeviceInfo{
		{DeviceID: "a2", Kind: "audioinput"},
		{DeviceID: "v1", Kind: "videoinput", Label: "Cam"},
		{DeviceID: "x", Kind: "midiinput"},
		{DeviceID: "a1", Kind: "audioinput"},
		{DeviceID: "s1", Kind: "audiooutput"},
	})

	require.Len(t, list.VideoInputs, 1)
	assert.Equal(t, domain.Device{ID: "v1", Kind: domain.KindVideoInput, Label: "Cam"}, list.VideoInputs[0])
	require.Len(t, list.AudioInputs, 2)
	assert.Equal(t, "a2", list.AudioInputs[0].ID)
	assert.Equal(t, "a1", list.AudioInputs[1].ID)
	require.Len(t, list.AudioOutputs, 1)
}

func TestClassify_EmptyBucketsAreNotNil(t *testing.T) {
	list := Classify(nil)
	assert.NotNil(t, list.VideoInputs)
	assert.NotNil(t, list.AudioInputs)
	assert.NotNil(t, list.AudioOutputs)
}

func TestDeviceCatalog_LabelsAppearAfterGrant(t *testing.T) {
	p := synthetic.New(synthetic.Options{})
	c := NewDeviceCatalog(p, zap.NewNop().Sugar())
	ctx := context.Background()

	list, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.VideoInputs[0].Label)

	_, err = p.GetUserMedia(ctx, ports.Constraints{})
	require.NoError(t, err)

	list, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Synthetic Camera", list.VideoInputs[0].Label)
	assert.Equal(t, list, c.Devices())
}

func TestDeviceCatalog_RefreshErrors(t *testing.T) {
	log := zap.NewNop().Sugar()

	c := NewDeviceCatalog(failingDevices{err: &ports.PlatformError{Name: "NotAllowedError"}}, log)
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	c = NewDeviceCatalog(failingDevices{err: errors.New("udev unavailable")}, log)
	_, err = c.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureFailed)
	assert.Equal(t, "EnumerationError", err.Error())
}

func TestDeviceCatalog_FailedRefreshKeepsLastList(t *testing.T) {
	p := synthetic.New(synthetic.Options{})
	c := NewDeviceCatalog(p, zap.NewNop().Sugar())

	list, err := c.Refresh(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, list, c.Devices())
}
