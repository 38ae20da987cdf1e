package domain

type DeviceKind string

const (
	KindVideoInput  DeviceKind = "videoinput"
	KindAudioInput  DeviceKind = "audioinput"
	KindAudioOutput DeviceKind = "audiooutput"
)

// ParseDeviceKind maps a platform kind string to a known DeviceKind.
// Unknown kinds report ok=false and must be dropped by callers.
func ParseDeviceKind(s string) (DeviceKind, bool) {
	switch DeviceKind(s) {
	case KindVideoInput, KindAudioInput, KindAudioOutput:
		return DeviceKind(s), true
	default:
		return "", false
	}
}

// Device is an immutable snapshot reported by the capture platform.
// Labels may be empty until capture permission has been granted once.
type Device struct {
	ID    string     `json:"id"`
	Kind  DeviceKind `json:"kind"`
	Label string     `json:"label"`
}

type DeviceList struct {
	VideoInputs  []Device `json:"video_inputs"`
	AudioInputs  []Device `json:"audio_inputs"`
	AudioOutputs []Device `json:"audio_outputs"`
}

// Find returns the device with the given id in the bucket for kind.
func (l DeviceList) Find(kind DeviceKind, id string) (Device, bool) {
	var bucket []Device
	switch kind {
	case KindVideoInput:
		bucket = l.VideoInputs
	case KindAudioInput:
		bucket = l.AudioInputs
	case KindAudioOutput:
		bucket = l.AudioOutputs
	}
	for _, d := range bucket {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// DeviceSelection holds the requested (or, after acquisition, the actually bound)
// input devices. An empty id means the platform default.
type DeviceSelection struct {
	VideoDeviceID string `json:"video_device_id,omitempty"`
	AudioDeviceID string `json:"audio_device_id,omitempty"`
}

// With returns a copy of the selection with the id for kind replaced.
func (s DeviceSelection) With(kind DeviceKind, id string) (DeviceSelection, error) {
	switch kind {
	case KindVideoInput:
		s.VideoDeviceID = id
	case KindAudioInput:
		s.AudioDeviceID = id
	default:
		return s, ErrUnknownDeviceKind
	}
	return s, nil
}
