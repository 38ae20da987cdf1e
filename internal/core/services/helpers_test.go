package services

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/internal/infrastructure/media/synthetic"
	"rillcast/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeLink struct {
	events ports.LinkEvents

	mu     sync.Mutex
	chunks []domain.Chunk
	open   bool
	closes int
}

func (l *fakeLink) Send(chunk domain.Chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.chunks = append(l.chunks, chunk)
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.closes++
	return nil
}

func (l *fakeLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *fakeLink) Chunks() []domain.Chunk {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Chunk(nil), l.chunks...)
}

func (l *fakeLink) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// fail simulates a socket error reported by the link's reader.
func (l *fakeLink) fail(err error) {
	l.events.OnError(err)
}

func (l *fakeLink) message(text string) {
	l.events.OnMessage(text)
}

type fakeDialer struct {
	mu        sync.Mutex
	hold      chan struct{}
	err       error
	attempts  int
	endpoints []string
	sessions  []string
	links     []*fakeLink
}

func (d *fakeDialer) Open(ctx context.Context, endpoint *url.URL, events ports.LinkEvents) (ports.RelayConnection, error) {
	d.mu.Lock()
	d.attempts++
	d.endpoints = append(d.endpoints, endpoint.String())
	d.sessions = append(d.sessions, logger.SessionID(ctx))
	hold, err := d.hold, d.err
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, domain.NewTransportError("dial", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	l := &fakeLink{events: events, open: true}
	d.mu.Lock()
	d.links = append(d.links, l)
	d.mu.Unlock()
	return l, nil
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) Sessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sessions...)
}

func (d *fakeDialer) Links() []*fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeLink(nil), d.links...)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []domain.StatusSnapshot
}

func (s *recordingSink) OnStatus(snap domain.StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) States() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.State)
	}
	return out
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

type fakeMetrics struct {
	mu      sync.Mutex
	warmUps []time.Duration
	errors  []string
	chunks  int
	started int
	ended   int
	changes []string
}

func (m *fakeMetrics) RecordStateChange(from, to domain.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, from.String()+"->"+to.String())
}

func (m *fakeMetrics) RecordChunk(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks++
}

func (m *fakeMetrics) RecordWarmUp(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmUps = append(m.warmUps, elapsed)
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

func (m *fakeMetrics) RecordSessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) RecordSessionEnded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended++
}

type metricsView struct {
	warmUps []time.Duration
	errors  []string
	chunks  int
	started int
	ended   int
	changes []string
}

func (m *fakeMetrics) snapshot() metricsView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricsView{
		warmUps: append([]time.Duration(nil), m.warmUps...),
		errors:  append([]string(nil), m.errors...),
		chunks:  m.chunks,
		started: m.started,
		ended:   m.ended,
		changes: append([]string(nil), m.changes...),
	}
}

type harness struct {
	ctrl     *StreamController
	platform *synthetic.Platform
	dialer   *fakeDialer
	clock    clockwork.FakeClock
	sink     *recordingSink
	metrics  *fakeMetrics
}

func twoCameras() []ports.MediaDeviceInfo {
	return []ports.MediaDeviceInfo{
		{DeviceID: "v1", Kind: string(domain.KindVideoInput), Label: "Front"},
		{DeviceID: "v2", Kind: string(domain.KindVideoInput), Label: "Rear"},
		{DeviceID: "a1", Kind: string(domain.KindAudioInput), Label: "Mic"},
		{DeviceID: "s1", Kind: string(domain.KindAudioOutput), Label: "Speaker"},
	}
}

func newHarness(t *testing.T, devices []ports.MediaDeviceInfo) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	h := &harness{
		platform: synthetic.New(synthetic.Options{Devices: devices, ChunkSize: 32}),
		dialer:   &fakeDialer{},
		clock:    clockwork.NewFakeClock(),
		sink:     &recordingSink{},
		metrics:  &fakeMetrics{},
	}

	endpoint, err := url.Parse("wss://relay.test/rtmps/rtmps://ingest.test/app/sk_test")
	require.NoError(t, err)

	catalog := NewDeviceCatalog(h.platform, logger)
	capture := NewCaptureSession(h.platform, CaptureConfig{Width: 1280, Height: 720}, logger)
	encoder := NewChunkEncoder(h.platform, EncoderConfig{VideoBitsPerSecond: 3000000}, h.clock, logger)

	h.ctrl = NewStreamController(catalog, capture, encoder, h.dialer, h.clock,
		ControllerConfig{Endpoint: endpoint, WarmUp: DefaultWarmUp}, logger)
	h.ctrl.AddStatusSink(h.sink)
	h.ctrl.SetMetricsRecorder(h.metrics)

	t.Cleanup(func() { _ = h.ctrl.Shutdown(context.Background()) })
	return h
}

func (h *harness) waitState(t *testing.T, want domain.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want }, waitFor, tick,
		"state never became %s (is %s)", want, h.ctrl.State())
}

// link waits for the n-th opened link (1-based).
func (h *harness) link(t *testing.T, n int) *fakeLink {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.dialer.Links()) >= n }, waitFor, tick)
	return h.dialer.Links()[n-1]
}

// startStreaming initializes capture, starts a session and runs the warm-up.
func (h *harness) startStreaming(t *testing.T) *fakeLink {
	t.Helper()
	ctx := context.Background()
	n := len(h.dialer.Links()) + 1
	require.NoError(t, h.ctrl.Initialize(ctx))
	require.NoError(t, h.ctrl.Start(ctx))

	link := h.link(t, n)
	h.clock.BlockUntil(1)
	h.clock.Advance(DefaultWarmUp)
	h.waitState(t, domain.StateStreaming)
	return link
}

// emit advances the encoder cadence once and waits for the chunk to land.
func (h *harness) emit(t *testing.T, link *fakeLink) {
	t.Helper()
	before := len(link.Chunks())
	h.clock.BlockUntil(1)
	h.clock.Advance(domain.DefaultChunkCadence)
	require.Eventually(t, func() bool { return len(link.Chunks()) == before+1 }, waitFor, tick)
}
