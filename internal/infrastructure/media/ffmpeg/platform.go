// Package ffmpeg is the Linux capture platform. Devices are discovered from
// sysfs (V4L2) and procfs (ALSA), and recording runs an ffmpeg process that
// muxes the selected camera and microphone to stdout.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	FFmpegPath string
	SysfsRoot  string
	ProcfsRoot string
	DevRoot    string
	Runner     Runner
	// OpenDevice checks that a device node can be opened for capture.
	OpenDevice func(path string) error
}

type Platform struct {
	opts   Options
	logger *zap.SugaredLogger

	capsOnce sync.Once
	caps     capabilities
}

func New(opts Options, logger *zap.SugaredLogger) *Platform {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = "/sys"
	}
	if opts.ProcfsRoot == "" {
		opts.ProcfsRoot = "/proc"
	}
	if opts.DevRoot == "" {
		opts.DevRoot = "/dev"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.OpenDevice == nil {
		opts.OpenDevice = openDevice
	}
	return &Platform{opts: opts, logger: logger}
}

func (p *Platform) EnumerateDevices(ctx context.Context) ([]ports.MediaDeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	video, err := discoverVideo(p.opts.SysfsRoot, p.opts.DevRoot)
	if err != nil {
		return nil, &ports.PlatformError{Name: "NotReadableError", Message: "video discovery failed", Err: err}
	}
	audio, err := discoverAudio(p.opts.ProcfsRoot)
	if err != nil {
		return nil, &ports.PlatformError{Name: "NotReadableError", Message: "audio discovery failed", Err: err}
	}
	return append(video, audio...), nil
}

func (p *Platform) GetUserMedia(ctx context.Context, c ports.Constraints) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := p.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}

	video, ok := pick(devices, domain.KindVideoInput, c.Video.DeviceID)
	if !ok {
		return nil, &ports.PlatformError{Name: "NotFoundError", Message: "no video input device"}
	}
	if err := p.opts.OpenDevice(video.DeviceID); err != nil {
		return nil, classifyOpenError(video.DeviceID, err)
	}
	if c.Video.Width > 0 && c.Video.Height > 0 {
		if err := p.checkResolution(ctx, video.DeviceID, c.Video.Width, c.Video.Height); err != nil {
			return nil, err
		}
	}

	stream := &mediaStream{id: uuid.NewString()}
	stream.tracks = append(stream.tracks, newTrack(ports.TrackVideo, video))

	if audio, ok := pick(devices, domain.KindAudioInput, c.Audio.DeviceID); ok {
		if node, ok := alsaNode(p.opts.DevRoot, audio.DeviceID); ok {
			if err := p.opts.OpenDevice(node); err != nil {
				ports.StopTracks(stream)
				return nil, classifyOpenError(audio.DeviceID, err)
			}
		}
		stream.tracks = append(stream.tracks, newTrack(ports.TrackAudio, audio))
	}

	p.logger.Debugw("capture devices bound",
		"stream_id", stream.id,
		"video_device_id", video.DeviceID,
		"tracks", len(stream.tracks),
	)
	return stream, nil
}

var (
	sizeRe     = regexp.MustCompile(`\b(\d{2,5})x(\d{2,5})\b`)
	stepwiseRe = regexp.MustCompile(`\{\d+-\d+`)
)

// checkResolution asks ffmpeg for the frame sizes the camera offers. Cameras
// that report stepwise ranges, or a listing that yields nothing, pass.
func (p *Platform) checkResolution(ctx context.Context, device string, width, height int) error {
	out, _ := p.opts.Runner.Output(ctx, p.opts.FFmpegPath,
		"-hide_banner", "-f", "v4l2", "-list_formats", "all", "-i", device)

	supported, discrete := parseFrameSizes(string(out))
	if !discrete || len(supported) == 0 {
		return nil
	}
	if supported[[2]int{width, height}] {
		return nil
	}
	return &ports.PlatformError{
		Name:       "ConstraintNotSatisfiedError",
		Message:    fmt.Sprintf("%s does not offer %dx%d", device, width, height),
		Constraint: "width",
	}
}

func parseFrameSizes(listing string) (map[[2]int]bool, bool) {
	sizes := make(map[[2]int]bool)
	for _, m := range sizeRe.FindAllStringSubmatch(listing, -1) {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		sizes[[2]int{w, h}] = true
	}
	return sizes, !stepwiseRe.MatchString(listing)
}

func pick(devices []ports.MediaDeviceInfo, kind domain.DeviceKind, id string) (ports.MediaDeviceInfo, bool) {
	var first *ports.MediaDeviceInfo
	for i := range devices {
		if devices[i].Kind != string(kind) {
			continue
		}
		if devices[i].DeviceID == id {
			return devices[i], true
		}
		if first == nil {
			first = &devices[i]
		}
	}
	if first == nil {
		return ports.MediaDeviceInfo{}, false
	}
	return *first, true
}

func openDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func classifyOpenError(device string, err error) error {
	name := "NotReadableError"
	switch {
	case errors.Is(err, fs.ErrPermission):
		name = "NotAllowedError"
	case errors.Is(err, fs.ErrNotExist):
		name = "NotFoundError"
	}
	return &ports.PlatformError{Name: name, Message: "cannot open " + device, Err: err}
}

type mediaStream struct {
	id     string
	tracks []*track
}

func (s *mediaStream) ID() string { return s.id }

func (s *mediaStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

type track struct {
	kind     ports.TrackKind
	deviceID string
	label    string

	mu   sync.Mutex
	live bool
}

func newTrack(kind ports.TrackKind, d ports.MediaDeviceInfo) *track {
	return &track{kind: kind, deviceID: d.DeviceID, label: d.Label, live: true}
}

func (t *track) Kind() ports.TrackKind { return t.kind }
func (t *track) DeviceID() string      { return t.deviceID }
func (t *track) Label() string         { return t.label }

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
}
