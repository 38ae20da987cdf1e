package services

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/pkg/logger"
	"rillcast/pkg/tracing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultWarmUp models the ingest server's setup latency after the relay
// acknowledged the connection.
const DefaultWarmUp = 15 * time.Second

type ControllerConfig struct {
	Endpoint *url.URL
	WarmUp   time.Duration
}

// StreamController owns the connection state machine and the pipeline
// resources. Commands (Initialize, SelectDevice, Start, Stop, Shutdown) are
// serialised; session work runs on one goroutine per start attempt.
type StreamController struct {
	catalog *DeviceCatalog
	capture *CaptureSession
	encoder *ChunkEncoder
	dialer  ports.RelayDialer
	clock   clockwork.Clock
	cfg     ControllerConfig
	logger  *zap.SugaredLogger

	sinks   []ports.StatusSink
	metrics ports.MetricsRecorder

	cmdMu sync.Mutex

	mu        sync.RWMutex
	state     domain.ConnectionState
	selection domain.DeviceSelection
	pending   *domain.DeviceSelection
	lastError *string
	lastDebug *string
	session   *streamSession
}

type streamSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	span   trace.Span
	format domain.ContainerFormat

	startedAt time.Time
	ackAt     time.Time
	link      ports.RelayConnection
	encoder   *EncoderHandle
	spanOnce  sync.Once
}

func (s *streamSession) endSpan(err error) {
	s.spanOnce.Do(func() {
		if err != nil {
			tracing.AddSpanAttributes(s.ctx, tracing.ErrorKindKey.String(domain.KindName(err)))
			tracing.RecordError(s.ctx, err)
		} else {
			tracing.SetSpanStatus(s.ctx, codes.Ok, "")
		}
		s.span.End()
	})
}

func NewStreamController(
	catalog *DeviceCatalog,
	capture *CaptureSession,
	encoder *ChunkEncoder,
	dialer ports.RelayDialer,
	clock clockwork.Clock,
	cfg ControllerConfig,
	logger *zap.SugaredLogger,
) *StreamController {
	if cfg.WarmUp < 0 {
		cfg.WarmUp = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StreamController{
		catalog: catalog,
		capture: capture,
		encoder: encoder,
		dialer:  dialer,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		metrics: noopMetrics{},
		state:   domain.StateIdle,
	}
}

// AddStatusSink registers a sink for snapshots. Call before issuing commands.
func (c *StreamController) AddStatusSink(sink ports.StatusSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

func (c *StreamController) SetMetricsRecorder(m ports.MetricsRecorder) {
	if m == nil {
		m = noopMetrics{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

func (c *StreamController) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *StreamController) Status() domain.StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *StreamController) Selection() domain.DeviceSelection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selection
}

// Devices returns the device list from the last catalog refresh.
func (c *StreamController) Devices() domain.DeviceList {
	return c.catalog.Devices()
}

// RefreshDevices re-enumerates devices without touching the capture stream.
func (c *StreamController) RefreshDevices(ctx context.Context) (domain.DeviceList, error) {
	list, err := c.catalog.Refresh(ctx)
	if err != nil {
		c.mu.Lock()
		c.recordErrorLocked(err)
		c.notifyLocked()
		c.mu.Unlock()
	}
	return list, err
}

// Initialize requests capture with the platform defaults, which triggers the
// permission grant, then populates the device catalog.
func (c *StreamController) Initialize(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	sel := c.selection
	c.mu.RUnlock()
	return c.applySelection(ctx, sel)
}

// SelectDevice changes the input device for kind. In Idle or Error the capture
// stream is re-acquired immediately; otherwise the change is queued and applied
// once the controller is back to Idle.
func (c *StreamController) SelectDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error {
	if kind != domain.KindVideoInput && kind != domain.KindAudioInput {
		return domain.ErrUnknownDeviceKind
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	base := c.selection
	if c.pending != nil {
		base = *c.pending
	}
	sel, err := base.With(kind, deviceID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if c.state == domain.StateIdle || c.state == domain.StateError {
		c.pending = nil
		c.mu.Unlock()
		return c.applySelection(ctx, sel)
	}

	c.pending = &sel
	state := c.state
	c.mu.Unlock()

	c.logger.Infow("device selection queued until idle",
		"state", state,
		"kind", kind,
		"device_id", deviceID,
	)
	return nil
}

// Start begins a streaming session. It is rejected with ErrInvalidTransition
// unless the controller is Idle or Error.
func (c *StreamController) Start(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.StateIdle && c.state != domain.StateError {
		c.logger.Debugw("start ignored", "state", c.state)
		return domain.ErrInvalidTransition
	}

	format, err := c.encoder.Negotiate()
	if err != nil {
		c.recordErrorLocked(err)
		c.setStateLocked(domain.StateIdle)
		return err
	}

	id := uuid.NewString()
	spanCtx, span := tracing.StartSpan(logger.WithSessionID(context.WithoutCancel(ctx), id), "stream.connect",
		trace.WithAttributes(
			tracing.SessionIDKey.String(id),
			tracing.FormatKey.String(string(format)),
		),
	)
	sessCtx, cancel := context.WithCancel(spanCtx)
	sess := &streamSession{
		id:        id,
		ctx:       sessCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		span:      span,
		format:    format,
		startedAt: c.clock.Now(),
	}

	c.lastError = nil
	c.lastDebug = nil
	c.session = sess
	c.metrics.RecordSessionStarted()

	needsCapture := c.capture.Stream() == nil
	if needsCapture {
		c.setStateLocked(domain.StateAcquiring)
	} else {
		c.setStateLocked(domain.StateConnecting)
	}

	go c.runSession(sess, needsCapture)
	return nil
}

// Stop ends the current session. While Streaming it stops the encoder and
// closes the link; while Acquiring or Connecting it cancels the pending wait and
// closes the half-open link. In any other state it does nothing.
func (c *StreamController) Stop() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.stopLocked()
	c.applyPending(context.Background())
}

// Shutdown stops any session and releases the capture stream.
func (c *StreamController) Shutdown(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.stopLocked()
	c.capture.Release()
	c.logger.Info("stream controller shut down")
	return ctx.Err()
}

func (c *StreamController) stopLocked() {
	c.mu.Lock()
	sess := c.session
	state := c.state
	switch state {
	case domain.StateStreaming, domain.StateConnecting, domain.StateAcquiring:
	default:
		c.mu.Unlock()
		c.logger.Debugw("stop ignored", "state", state)
		return
	}
	sess.cancel()
	c.setStateLocked(domain.StateStopping)
	c.mu.Unlock()

	<-sess.done

	c.mu.Lock()
	link, enc := sess.link, sess.encoder
	c.mu.Unlock()

	c.encoder.Stop(enc)
	if link != nil {
		_ = link.Close()
	}
	sess.endSpan(nil)

	c.mu.Lock()
	c.session = nil
	c.lastDebug = nil
	c.metrics.RecordSessionEnded(c.clock.Since(sess.startedAt))
	c.setStateLocked(domain.StateIdle)
	c.mu.Unlock()

	c.logger.Infow("stream stopped", "session_id", sess.id, "from", state)
}

func (c *StreamController) runSession(sess *streamSession, needsCapture bool) {
	defer close(sess.done)

	if needsCapture {
		c.mu.RLock()
		sel := c.selection
		c.mu.RUnlock()

		_, bound, err := c.capture.Acquire(sess.ctx, sel)
		if err != nil {
			c.endSession(sess, err, domain.StateIdle)
			return
		}

		c.mu.Lock()
		if sess.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.selection = bound
		c.setStateLocked(domain.StateConnecting)
		c.mu.Unlock()

		if _, err := c.catalog.Refresh(sess.ctx); err != nil {
			c.logger.Warnw("device refresh after grant failed", "session_id", sess.id, "error", err)
		}
	}

	link, err := c.dialer.Open(sess.ctx, c.cfg.Endpoint, ports.LinkEvents{
		OnMessage: func(text string) { c.onRelayMessage(sess, text) },
		OnError:   func(err error) { c.endSession(sess, err, domain.StateError) },
	})
	if err != nil {
		if sess.ctx.Err() == nil {
			c.endSession(sess, err, domain.StateError)
		}
		return
	}

	c.mu.Lock()
	if sess.ctx.Err() != nil {
		c.mu.Unlock()
		_ = link.Close()
		return
	}
	sess.link = link
	sess.ackAt = c.clock.Now()
	c.mu.Unlock()

	c.logger.Infow("relay acknowledged, warming up", "session_id", sess.id, "warm_up", c.cfg.WarmUp)

	select {
	case <-c.clock.After(c.cfg.WarmUp):
	case <-sess.ctx.Done():
		_ = link.Close()
		return
	}
	tracing.RecordDuration(sess.ctx, "warm_up", c.clock.Since(sess.ackAt))

	c.mu.Lock()
	if sess.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	metrics := c.metrics
	handle, err := c.encoder.Start(c.capture.Stream(), sess.format, func(chunk domain.Chunk) {
		metrics.RecordChunk(chunk.Size())
		link.Send(chunk)
	}, func(err error) {
		c.endSession(sess, err, domain.StateError)
	})
	if err != nil {
		c.mu.Unlock()
		target := domain.StateError
		if errors.Is(err, domain.ErrEncoderUnsupported) {
			target = domain.StateIdle
		}
		c.endSession(sess, err, target)
		return
	}
	sess.encoder = handle
	c.metrics.RecordWarmUp(c.clock.Since(sess.ackAt))
	c.setStateLocked(domain.StateStreaming)
	c.mu.Unlock()

	sess.endSpan(nil)
	c.logger.Infow("streaming", "session_id", sess.id, "format", handle.Format())
}

// endSession tears down sess after a failure and moves to target. It is a
// no-op if sess is no longer current or is already being stopped.
func (c *StreamController) endSession(sess *streamSession, err error, target domain.ConnectionState) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case domain.StateAcquiring, domain.StateConnecting, domain.StateStreaming:
	default:
		c.mu.Unlock()
		return
	}
	sess.cancel()
	link, enc := sess.link, sess.encoder
	c.session = nil
	c.recordErrorLocked(err)
	c.metrics.RecordSessionEnded(c.clock.Since(sess.startedAt))
	c.setStateLocked(target)
	c.mu.Unlock()

	c.encoder.Stop(enc)
	if link != nil {
		_ = link.Close()
	}
	sess.endSpan(err)

	c.logger.Errorw("stream session ended with error", "session_id", sess.id, "state", target, "error", err)

	go func() {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		c.applyPending(context.Background())
	}()
}

func (c *StreamController) onRelayMessage(sess *streamSession, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}
	c.logger.Debugw("relay message", "session_id", sess.id, "message", text)
	c.lastDebug = &text
	c.notifyLocked()
}

// applySelection re-acquires capture for sel. Caller holds cmdMu.
func (c *StreamController) applySelection(ctx context.Context, sel domain.DeviceSelection) error {
	_, bound, err := c.capture.Acquire(ctx, sel)
	if err != nil {
		c.mu.Lock()
		c.recordErrorLocked(err)
		c.notifyLocked()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.selection = bound
	c.lastError = nil
	if c.state == domain.StateError {
		c.setStateLocked(domain.StateIdle)
	} else {
		c.notifyLocked()
	}
	c.mu.Unlock()

	// A grant makes labels visible, so enumerate again.
	if _, err := c.RefreshDevices(ctx); err != nil {
		return err
	}
	return nil
}

// applyPending applies a queued selection once the controller is idle.
// Caller holds cmdMu.
func (c *StreamController) applyPending(ctx context.Context) {
	c.mu.Lock()
	if c.pending == nil || (c.state != domain.StateIdle && c.state != domain.StateError) {
		c.mu.Unlock()
		return
	}
	sel := *c.pending
	c.pending = nil
	c.mu.Unlock()

	c.logger.Infow("applying queued device selection",
		"video_device_id", sel.VideoDeviceID,
		"audio_device_id", sel.AudioDeviceID,
	)
	_ = c.applySelection(ctx, sel)
}

func (c *StreamController) setStateLocked(to domain.ConnectionState) {
	from := c.state
	c.state = to
	if from != to {
		c.metrics.RecordStateChange(from, to)
		fields := []interface{}{"from", from, "to", to}
		if c.session != nil {
			fields = append(fields, "session_id", c.session.id)
			tracing.RecordTransition(c.session.ctx, from.String(), to.String())
		}
		c.logger.Infow("state transition", fields...)
	}
	c.notifyLocked()
}

func (c *StreamController) recordErrorLocked(err error) {
	var serr *domain.StreamError
	if !errors.As(err, &serr) {
		serr = domain.NewCaptureError("InternalError", err)
	}
	msg := serr.Message
	c.lastError = &msg
	c.metrics.RecordError(domain.KindName(serr))
}

func (c *StreamController) snapshotLocked() domain.StatusSnapshot {
	snap := domain.Project(c.state, c.lastError, c.lastDebug)
	snap.Selection = c.selection
	if c.session != nil {
		snap.SessionID = c.session.id
		snap.Format = c.session.format
	}
	return snap
}

func (c *StreamController) notifyLocked() {
	if len(c.sinks) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, s := range c.sinks {
		s.OnStatus(snap)
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordStateChange(from, to domain.ConnectionState) {}
func (noopMetrics) RecordChunk(size int)                              {}
func (noopMetrics) RecordWarmUp(elapsed time.Duration)                {}
func (noopMetrics) RecordError(kind string)                           {}
func (noopMetrics) RecordSessionStarted()                             {}
func (noopMetrics) RecordSessionEnded(duration time.Duration)         {}
