// Package synthetic is an in-process capture platform. It reports a fixed
// device list, binds streams without touching hardware and records
// deterministic payloads. It backs the demo mode and the pipeline tests.
package synthetic

import (
	"context"
	"fmt"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
)

type Options struct {
	Devices []ports.MediaDeviceInfo
	// Supported lists the container formats the recorder accepts.
	Supported []domain.ContainerFormat
	// ChunkSize is the payload size produced per Flush.
	ChunkSize int
}

// DefaultDevices is one camera, one microphone and one speaker.
func DefaultDevices() []ports.MediaDeviceInfo {
	return []ports.MediaDeviceInfo{
		{DeviceID: "synthetic-video-0", Kind: string(domain.KindVideoInput), Label: "Synthetic Camera"},
		{DeviceID: "synthetic-audio-0", Kind: string(domain.KindAudioInput), Label: "Synthetic Microphone"},
		{DeviceID: "synthetic-speaker-0", Kind: string(domain.KindAudioOutput), Label: "Synthetic Speaker"},
	}
}

type Platform struct {
	mu        sync.Mutex
	opts      Options
	granted   bool
	failNext  map[ports.TrackKind]string
	denied    bool
	openCount int
	streams   int
	hold      <-chan struct{}
	lastReq   ports.Constraints
	lastRec   *Recorder
}

func New(opts Options) *Platform {
	if opts.Devices == nil {
		opts.Devices = DefaultDevices()
	}
	if opts.Supported == nil {
		opts.Supported = []domain.ContainerFormat{domain.FormatWebM, domain.FormatMP4}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 4096
	}
	return &Platform{
		opts:     opts,
		failNext: make(map[ports.TrackKind]string),
	}
}

// Deny makes every following GetUserMedia fail with NotAllowedError.
func (p *Platform) Deny(denied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = denied
}

// FailTrack makes the next acquisition of a track of kind fail with the given
// platform error name, after any earlier tracks were opened.
func (p *Platform) FailTrack(kind ports.TrackKind, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[kind] = name
}

// SetSupported replaces the recorder's supported formats.
func (p *Platform) SetSupported(formats ...domain.ContainerFormat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.Supported = formats
}

// HoldAcquisition makes GetUserMedia wait until release is closed or the
// caller's context ends, like a pending permission prompt. Pass nil to clear.
func (p *Platform) HoldAcquisition(release <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = release
}

// LastConstraints returns the constraints of the most recent GetUserMedia call.
func (p *Platform) LastConstraints() ports.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

// LastRecorder returns the most recently created recorder, or nil.
func (p *Platform) LastRecorder() *Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRec
}

// OpenTracks returns the number of tracks that were opened and not stopped.
func (p *Platform) OpenTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openCount
}

func (p *Platform) EnumerateDevices(ctx context.Context) ([]ports.MediaDeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ports.MediaDeviceInfo, 0, len(p.opts.Devices))
	for _, d := range p.opts.Devices {
		if !p.granted {
			// Labels stay hidden until the first grant.
			d.Label = ""
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *Platform) GetUserMedia(ctx context.Context, c ports.Constraints) (ports.MediaStream, error) {
	p.mu.Lock()
	hold := p.hold
	p.lastReq = c
	p.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied {
		return nil, &ports.PlatformError{Name: "NotAllowedError", Message: "permission denied by user"}
	}

	video, ok := p.pick(domain.KindVideoInput, c.Video.DeviceID)
	if !ok {
		return nil, &ports.PlatformError{Name: "NotFoundError", Message: "no video input device"}
	}

	p.streams++
	stream := &mediaStream{id: fmt.Sprintf("synthetic-stream-%d", p.streams)}

	if name, fail := p.failNext[ports.TrackVideo]; fail {
		delete(p.failNext, ports.TrackVideo)
		return nil, &ports.PlatformError{Name: name, Message: "video track failed", Constraint: "width"}
	}
	stream.tracks = append(stream.tracks, p.openTrack(ports.TrackVideo, video))

	if audio, ok := p.pick(domain.KindAudioInput, c.Audio.DeviceID); ok {
		if name, fail := p.failNext[ports.TrackAudio]; fail {
			delete(p.failNext, ports.TrackAudio)
			p.stopTracksLocked(stream)
			return nil, &ports.PlatformError{Name: name, Message: "audio track failed"}
		}
		stream.tracks = append(stream.tracks, p.openTrack(ports.TrackAudio, audio))
	}

	p.granted = true
	return stream, nil
}

// pick returns the requested device, or the first of its kind when id is
// empty or unknown, mirroring a non-exact device constraint.
func (p *Platform) pick(kind domain.DeviceKind, id string) (ports.MediaDeviceInfo, bool) {
	var first *ports.MediaDeviceInfo
	for i := range p.opts.Devices {
		d := p.opts.Devices[i]
		if d.Kind != string(kind) {
			continue
		}
		if d.DeviceID == id {
			return d, true
		}
		if first == nil {
			first = &p.opts.Devices[i]
		}
	}
	if first == nil {
		return ports.MediaDeviceInfo{}, false
	}
	return *first, true
}

func (p *Platform) openTrack(kind ports.TrackKind, d ports.MediaDeviceInfo) *track {
	p.openCount++
	return &track{platform: p, kind: kind, deviceID: d.DeviceID, label: d.Label, live: true}
}

func (p *Platform) stopTracksLocked(s *mediaStream) {
	for _, t := range s.tracks {
		if t.live {
			t.live = false
			p.openCount--
		}
	}
}

type mediaStream struct {
	id     string
	tracks []*track
}

func (s *mediaStream) ID() string {
	return s.id
}

func (s *mediaStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

type track struct {
	platform *Platform
	kind     ports.TrackKind
	deviceID string
	label    string
	live     bool
}

func (t *track) Kind() ports.TrackKind { return t.kind }
func (t *track) DeviceID() string      { return t.deviceID }
func (t *track) Label() string         { return t.label }

func (t *track) Live() bool {
	t.platform.mu.Lock()
	defer t.platform.mu.Unlock()
	return t.live
}

func (t *track) Stop() {
	t.platform.mu.Lock()
	defer t.platform.mu.Unlock()
	if t.live {
		t.live = false
		t.platform.openCount--
	}
}
