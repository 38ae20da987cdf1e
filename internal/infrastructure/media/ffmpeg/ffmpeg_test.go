package ffmpeg

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const muxersOutput = `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E mp4             MP4 (MPEG-4 Part 14)
  E webm            WebM
 DE wav             WAV / WAVE (Waveform Audio)
`

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

const listFormatsOutput = `[video4linux2,v4l2 @ 0x55d5c8a3c0] Raw       :     yuyv422 :           YUYV 4:2:2 : 640x480 1280x720 1920x1080
[video4linux2,v4l2 @ 0x55d5c8a3c0] Compressed:       mjpeg :          Motion-JPEG : 640x480 1280x720
`

type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	calls   [][]string
	procs   []*fakeProcess
}

func (r *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	for _, a := range args {
		if out, ok := r.outputs[a]; ok {
			return []byte(out), nil
		}
	}
	return nil, errors.New("exit status 1")
}

func (r *fakeRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, pw := io.Pipe()
	p := &fakeProcess{args: args, stdout: pr, writer: pw, exited: make(chan struct{})}
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) countCalls(flag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		for _, a := range c {
			if a == flag {
				n++
			}
		}
	}
	return n
}

type fakeProcess struct {
	args   []string
	stdout *io.PipeReader
	writer *io.PipeWriter

	once    sync.Once
	exited  chan struct{}
	exitErr error
	killed  bool
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

func (p *fakeProcess) Kill() error {
	p.killed = true
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.writer.Close()
		close(p.exited)
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakeHost lays out sysfs, procfs and dev trees for one camera with a metadata
// node, one capture-and-playback card and one playback-only card.
func fakeHost(t *testing.T) (sysfs, procfs, dev string) {
	t.Helper()
	root := t.TempDir()
	sysfs = filepath.Join(root, "sys")
	procfs = filepath.Join(root, "proc")
	dev = filepath.Join(root, "dev")

	writeFile(t, filepath.Join(sysfs, "class/video4linux/video0/name"), "Integrated Camera\n")
	writeFile(t, filepath.Join(sysfs, "class/video4linux/video0/index"), "0\n")
	writeFile(t, filepath.Join(sysfs, "class/video4linux/video1/name"), "Integrated Camera\n")
	writeFile(t, filepath.Join(sysfs, "class/video4linux/video1/index"), "1\n")
	writeFile(t, filepath.Join(sysfs, "class/video4linux/video2/name"), "USB Capture\n")
	writeFile(t, filepath.Join(sysfs, "class/video4linux/video2/index"), "0\n")

	writeFile(t, filepath.Join(procfs, "asound/pcm"),
		"00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1\n"+
			"01-03: HDMI 0 : HDMI 0 : playback 1\n")

	writeFile(t, filepath.Join(dev, "video0"), "")
	writeFile(t, filepath.Join(dev, "video2"), "")
	writeFile(t, filepath.Join(dev, "snd/pcmC0D0c"), "")
	return sysfs, procfs, dev
}

func newTestPlatform(t *testing.T, runner *fakeRunner) (*Platform, string) {
	t.Helper()
	sysfs, procfs, dev := fakeHost(t)
	p := New(Options{
		FFmpegPath: "ffmpeg",
		SysfsRoot:  sysfs,
		ProcfsRoot: procfs,
		DevRoot:    dev,
		Runner:     runner,
	}, zap.NewNop().Sugar())
	return p, dev
}

func defaultRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{
		"-muxers":       muxersOutput,
		"-encoders":     encodersOutput,
		"-list_formats": listFormatsOutput,
	}}
}

func TestEnumerateDevices(t *testing.T) {
	p, dev := newTestPlatform(t, defaultRunner())

	infos, err := p.EnumerateDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []ports.MediaDeviceInfo{
		{DeviceID: filepath.Join(dev, "video0"), Kind: "videoinput", Label: "Integrated Camera"},
		{DeviceID: filepath.Join(dev, "video2"), Kind: "videoinput", Label: "USB Capture"},
		{DeviceID: "hw:0,0", Kind: "audioinput", Label: "ALC892 Analog"},
		{DeviceID: "hw:0,0", Kind: "audiooutput", Label: "ALC892 Analog"},
		{DeviceID: "hw:1,3", Kind: "audiooutput", Label: "HDMI 0"},
	}, infos)
}

func TestEnumerateDevices_NoHardware(t *testing.T) {
	root := t.TempDir()
	p := New(Options{SysfsRoot: root, ProcfsRoot: root, DevRoot: root, Runner: defaultRunner()}, zap.NewNop().Sugar())

	infos, err := p.EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestParsePCMLine(t *testing.T) {
	id, label, capture, playback, ok := parsePCMLine("02-01: USB Audio : USB Audio #1 : capture 1")
	require.True(t, ok)
	assert.Equal(t, "hw:2,1", id)
	assert.Equal(t, "USB Audio #1", label)
	assert.True(t, capture)
	assert.False(t, playback)

	_, _, _, _, ok = parsePCMLine("garbage")
	assert.False(t, ok)
}

func TestGetUserMedia_BindsRequestedDevices(t *testing.T) {
	p, dev := newTestPlatform(t, defaultRunner())
	want := filepath.Join(dev, "video2")

	stream, err := p.GetUserMedia(context.Background(), ports.Constraints{
		Video: ports.VideoConstraints{DeviceID: want, Width: 1280, Height: 720},
		Audio: ports.AudioConstraints{DeviceID: "hw:0,0"},
	})
	require.NoError(t, err)

	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, ports.TrackVideo, tracks[0].Kind())
	assert.Equal(t, want, tracks[0].DeviceID())
	assert.Equal(t, "USB Capture", tracks[0].Label())
	assert.Equal(t, ports.TrackAudio, tracks[1].Kind())
	assert.Equal(t, "hw:0,0", tracks[1].DeviceID())

	ports.StopTracks(stream)
	assert.False(t, tracks[0].Live())
}

func TestGetUserMedia_UnknownIDFallsBackToFirst(t *testing.T) {
	p, dev := newTestPlatform(t, defaultRunner())

	stream, err := p.GetUserMedia(context.Background(), ports.Constraints{
		Video: ports.VideoConstraints{DeviceID: "/dev/video99"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dev, "video0"), stream.Tracks()[0].DeviceID())
}

func TestGetUserMedia_UnsupportedResolution(t *testing.T) {
	p, _ := newTestPlatform(t, defaultRunner())

	_, err := p.GetUserMedia(context.Background(), ports.Constraints{
		Video: ports.VideoConstraints{Width: 3840, Height: 2160},
	})
	var perr *ports.PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ConstraintNotSatisfiedError", perr.Name)
}

func TestGetUserMedia_StepwiseSizesPass(t *testing.T) {
	runner := defaultRunner()
	runner.outputs["-list_formats"] = "[video4linux2,v4l2 @ 0x1] Raw : yuyv422 : YUYV : {32-4096, 2}x{32-2304, 2}\n"
	p, _ := newTestPlatform(t, runner)

	_, err := p.GetUserMedia(context.Background(), ports.Constraints{
		Video: ports.VideoConstraints{Width: 3840, Height: 2160},
	})
	assert.NoError(t, err)
}

func TestGetUserMedia_OpenErrors(t *testing.T) {
	cases := []struct {
		err  error
		name string
	}{
		{fs.ErrPermission, "NotAllowedError"},
		{syscall.EACCES, "NotAllowedError"},
		{fs.ErrNotExist, "NotFoundError"},
		{syscall.EBUSY, "NotReadableError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPlatform(t, defaultRunner())
			p.opts.OpenDevice = func(string) error { return &fs.PathError{Op: "open", Path: "x", Err: tc.err} }

			_, err := p.GetUserMedia(context.Background(), ports.Constraints{})
			var perr *ports.PlatformError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.name, perr.Name)
		})
	}
}

func TestGetUserMedia_AudioFailureReleasesVideo(t *testing.T) {
	p, _ := newTestPlatform(t, defaultRunner())
	p.opts.OpenDevice = func(path string) error {
		if strings.Contains(path, "pcmC") {
			return syscall.EBUSY
		}
		return nil
	}

	stream, err := p.GetUserMedia(context.Background(), ports.Constraints{})
	assert.Nil(t, stream)
	var perr *ports.PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "NotReadableError", perr.Name)
}

func TestGetUserMedia_NoCamera(t *testing.T) {
	root := t.TempDir()
	p := New(Options{SysfsRoot: root, ProcfsRoot: root, DevRoot: root, Runner: defaultRunner()}, zap.NewNop().Sugar())

	_, err := p.GetUserMedia(context.Background(), ports.Constraints{})
	var perr *ports.PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "NotFoundError", perr.Name)
}

func TestIsTypeSupported_ListsCapabilitiesOnce(t *testing.T) {
	runner := defaultRunner()
	p, _ := newTestPlatform(t, runner)

	// libvpx and libopus are missing from the encoder list.
	assert.False(t, p.IsTypeSupported(domain.FormatWebM))
	assert.True(t, p.IsTypeSupported(domain.FormatMP4))
	assert.False(t, p.IsTypeSupported("video/ogg"))

	assert.Equal(t, 1, runner.countCalls("-muxers"))
	assert.Equal(t, 1, runner.countCalls("-encoders"))
}

func TestIsTypeSupported_MissingBinary(t *testing.T) {
	p, _ := newTestPlatform(t, &fakeRunner{})
	assert.False(t, p.IsTypeSupported(domain.FormatWebM))
	assert.False(t, p.IsTypeSupported(domain.FormatMP4))
}

func TestBuildArgs_MP4(t *testing.T) {
	args := buildArgs(profiles[domain.FormatMP4], "/dev/video0", "hw:0,0", ports.RecorderOptions{
		MimeType:           domain.FormatMP4,
		VideoBitsPerSecond: 3000000,
		Width:              1280,
		Height:             720,
		FrameRate:          30,
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f v4l2 -framerate 30 -video_size 1280x720 -i /dev/video0")
	assert.Contains(t, joined, "-f alsa -i hw:0,0")
	assert.Contains(t, joined, "-c:v libx264 -b:v 3000000")
	assert.Contains(t, joined, "-preset ultrafast -tune zerolatency")
	assert.True(t, strings.HasSuffix(joined, "-f mp4 pipe:1"))
}

func TestBuildArgs_VideoOnly(t *testing.T) {
	args := buildArgs(profiles[domain.FormatWebM], "/dev/video0", "", ports.RecorderOptions{MimeType: domain.FormatWebM})
	joined := strings.Join(args, " ")

	assert.NotContains(t, joined, "alsa")
	assert.NotContains(t, joined, "-c:a")
	assert.True(t, strings.HasSuffix(joined, "-f webm pipe:1"))
}

func startRecorder(t *testing.T) (*Recorder, *fakeProcess) {
	t.Helper()
	runner := defaultRunner()
	p, _ := newTestPlatform(t, runner)

	stream, err := p.GetUserMedia(context.Background(), ports.Constraints{})
	require.NoError(t, err)

	rec, err := p.NewRecorder(stream, ports.RecorderOptions{MimeType: domain.FormatMP4})
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	runner.mu.Lock()
	proc := runner.procs[0]
	runner.mu.Unlock()
	return rec.(*Recorder), proc
}

func TestRecorder_FlushDrainsOutput(t *testing.T) {
	rec, proc := startRecorder(t)
	defer rec.Stop()

	data, err := rec.Flush()
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = proc.writer.Write([]byte("moof-1"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		b, err := rec.Flush()
		if err != nil {
			return false
		}
		got = append(got, b...)
		return len(got) == len("moof-1")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "moof-1", string(got))

	data, err = rec.Flush()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRecorder_UnexpectedExitSurfacesOnFlush(t *testing.T) {
	rec, proc := startRecorder(t)
	defer rec.Stop()

	proc.exit(errors.New("exit status 1: Device or resource busy"))

	require.Eventually(t, func() bool {
		_, err := rec.Flush()
		return errors.Is(err, errRecorderExited)
	}, time.Second, 5*time.Millisecond)
}

func TestRecorder_StopKillsProcess(t *testing.T) {
	rec, proc := startRecorder(t)

	require.NoError(t, rec.Stop())
	assert.True(t, proc.killed)
	require.NoError(t, rec.Stop())

	data, err := rec.Flush()
	assert.NoError(t, err)
	assert.Empty(t, data)
}

func TestNewRecorder_RejectsEndedTracks(t *testing.T) {
	p, _ := newTestPlatform(t, defaultRunner())
	stream, err := p.GetUserMedia(context.Background(), ports.Constraints{})
	require.NoError(t, err)
	ports.StopTracks(stream)

	_, err = p.NewRecorder(stream, ports.RecorderOptions{MimeType: domain.FormatMP4})
	assert.Error(t, err)
}
