package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
)

var errRecorderExited = errors.New("ffmpeg exited")

// capabilities is what the local ffmpeg build can mux and encode.
type capabilities struct {
	muxers   map[string]bool
	encoders map[string]bool
}

type formatProfile struct {
	muxer      string
	videoCodec string
	audioCodec string
	extra      []string
}

var profiles = map[domain.ContainerFormat]formatProfile{
	domain.FormatWebM: {
		muxer:      "webm",
		videoCodec: "libvpx",
		audioCodec: "libopus",
		extra:      []string{"-deadline", "realtime", "-cpu-used", "8", "-cluster_time_limit", "1000"},
	},
	domain.FormatMP4: {
		muxer:      "mp4",
		videoCodec: "libx264",
		audioCodec: "aac",
		extra: []string{
			"-preset", "ultrafast", "-tune", "zerolatency", "-pix_fmt", "yuv420p",
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		},
	},
}

func (p *Platform) loadCapabilities() capabilities {
	p.capsOnce.Do(func() {
		ctx := context.Background()
		muxers, err := p.opts.Runner.Output(ctx, p.opts.FFmpegPath, "-hide_banner", "-muxers")
		if err != nil {
			p.logger.Warnw("ffmpeg muxer listing failed", "path", p.opts.FFmpegPath, "error", err)
		}
		encoders, err := p.opts.Runner.Output(ctx, p.opts.FFmpegPath, "-hide_banner", "-encoders")
		if err != nil {
			p.logger.Warnw("ffmpeg encoder listing failed", "path", p.opts.FFmpegPath, "error", err)
		}
		p.caps = capabilities{
			muxers:   parseCapabilityList(string(muxers)),
			encoders: parseCapabilityList(string(encoders)),
		}
		p.logger.Infow("ffmpeg capabilities loaded",
			"muxers", len(p.caps.muxers),
			"encoders", len(p.caps.encoders),
		)
	})
	return p.caps
}

// parseCapabilityList reads the "-muxers" or "-encoders" table. Rows are a
// flag column followed by one or more comma separated names.
func parseCapabilityList(out string) map[string]bool {
	names := make(map[string]bool)
	pastHeader := false
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "--") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, n := range strings.Split(fields[1], ",") {
			names[n] = true
		}
	}
	return names
}

func (p *Platform) IsTypeSupported(mimeType domain.ContainerFormat) bool {
	profile, ok := profiles[mimeType]
	if !ok {
		return false
	}
	caps := p.loadCapabilities()
	return caps.muxers[profile.muxer] && caps.encoders[profile.videoCodec] && caps.encoders[profile.audioCodec]
}

func (p *Platform) NewRecorder(stream ports.MediaStream, opts ports.RecorderOptions) (ports.Recorder, error) {
	profile, ok := profiles[opts.MimeType]
	if !ok || !p.IsTypeSupported(opts.MimeType) {
		return nil, fmt.Errorf("format %s not supported", opts.MimeType)
	}

	var videoDevice, audioDevice string
	for _, t := range stream.Tracks() {
		if !t.Live() {
			return nil, &ports.PlatformError{Name: "InvalidStateError", Message: "stream has ended tracks"}
		}
		switch t.Kind() {
		case ports.TrackVideo:
			videoDevice = t.DeviceID()
		case ports.TrackAudio:
			audioDevice = t.DeviceID()
		}
	}
	if videoDevice == "" {
		return nil, &ports.PlatformError{Name: "InvalidStateError", Message: "stream has no video track"}
	}

	return &Recorder{
		runner: p.opts.Runner,
		path:   p.opts.FFmpegPath,
		args:   buildArgs(profile, videoDevice, audioDevice, opts),
	}, nil
}

func buildArgs(profile formatProfile, videoDevice, audioDevice string, opts ports.RecorderOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if opts.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(opts.FrameRate))
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
	}
	args = append(args, "-i", videoDevice)
	if audioDevice != "" {
		args = append(args, "-f", "alsa", "-i", audioDevice)
	}

	args = append(args, "-c:v", profile.videoCodec)
	if opts.VideoBitsPerSecond > 0 {
		args = append(args, "-b:v", strconv.Itoa(opts.VideoBitsPerSecond))
	}
	if audioDevice != "" {
		args = append(args, "-c:a", profile.audioCodec, "-b:a", "128k")
	}
	args = append(args, profile.extra...)
	return append(args, "-f", profile.muxer, "pipe:1")
}

// Recorder runs one ffmpeg process. A reader goroutine accumulates stdout and
// Flush hands out what arrived since the previous call.
type Recorder struct {
	runner Runner
	path   string
	args   []string

	cancel context.CancelFunc
	proc   Process
	done   chan struct{}

	mu      sync.Mutex
	buf     bytes.Buffer
	exitErr error
	exited  bool
	stopped bool
}

func (r *Recorder) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	proc, err := r.runner.Start(ctx, r.path, r.args...)
	if err != nil {
		cancel()
		return err
	}
	r.cancel = cancel
	r.proc = proc
	r.done = make(chan struct{})
	go r.read()
	return nil
}

func (r *Recorder) read() {
	defer close(r.done)

	chunk := make([]byte, 32*1024)
	stdout := r.proc.Stdout()
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			r.buf.Write(chunk[:n])
			r.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.setExit(err)
			}
			break
		}
	}
	r.setExit(r.proc.Wait())
}

func (r *Recorder) setExit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited {
		return
	}
	r.exited = true
	r.exitErr = err
}

// Flush returns buffered output. Once ffmpeg has exited on its own and the
// buffer is drained, it reports the exit as an error.
func (r *Recorder) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() > 0 {
		out := make([]byte, r.buf.Len())
		copy(out, r.buf.Bytes())
		r.buf.Reset()
		return out, nil
	}
	if r.exited && !r.stopped {
		if r.exitErr != nil {
			return nil, fmt.Errorf("%w: %v", errRecorderExited, r.exitErr)
		}
		return nil, errRecorderExited
	}
	return nil, nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped || r.proc == nil {
		r.stopped = true
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	exited := r.exited
	r.mu.Unlock()

	var err error
	if !exited {
		if err = r.proc.Kill(); errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	}
	r.cancel()
	<-r.done
	return err
}
