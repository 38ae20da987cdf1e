package services

import (
	"sync"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type EncoderConfig struct {
	// Formats is the negotiation priority list; the first supported wins.
	Formats            []domain.ContainerFormat
	Cadence            time.Duration
	VideoBitsPerSecond int
	Width              int
	Height             int
	FrameRate          int
}

// ChunkEncoder turns a live stream into sequenced chunks at a fixed cadence.
// Only one handle may be active at a time.
type ChunkEncoder struct {
	factory ports.RecorderFactory
	cfg     EncoderConfig
	clock   clockwork.Clock
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	active *EncoderHandle
}

func NewChunkEncoder(factory ports.RecorderFactory, cfg EncoderConfig, clock clockwork.Clock, logger *zap.SugaredLogger) *ChunkEncoder {
	if len(cfg.Formats) == 0 {
		cfg.Formats = domain.DefaultFormats
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = domain.DefaultChunkCadence
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChunkEncoder{
		factory: factory,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Negotiate queries the platform once per format in priority order.
func (e *ChunkEncoder) Negotiate() (domain.ContainerFormat, error) {
	for _, f := range e.cfg.Formats {
		if e.factory.IsTypeSupported(f) {
			return f, nil
		}
		e.logger.Debugw("container format not supported, trying next", "format", f)
	}
	return "", domain.NewEncoderUnsupportedError(e.cfg.Formats)
}

// Start runs a recorder for format on stream and begins emitting chunks to
// onChunk. format is the result of an earlier Negotiate; it is not checked again.
// onChunk onChunk runs on the encoder goroutine, one chunk at a time,
// and must not block. onError is called at most once if the recorder fails;
// the handle is already stopped by then.
func (e *ChunkEncoder) Start(stream ports.MediaStream, format domain.ContainerFormat, onChunk func(domain.Chunk), onError func(error)) (*EncoderHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil && !e.active.Stopped() {
		return nil, domain.ErrEncoderBusy
	}
	if stream == nil {
		return nil, domain.ErrNoLiveStream
	}

	if format == "" {
		return nil, domain.NewEncoderUnsupportedError(e.cfg.Formats)
	}

	rec, err := e.factory.NewRecorder(stream, ports.RecorderOptions{
		MimeType:           format,
		VideoBitsPerSecond: e.cfg.VideoBitsPerSecond,
		Width:              e.cfg.Width,
		Height:             e.cfg.Height,
		FrameRate:          e.cfg.FrameRate,
	})
	if err != nil {
		return nil, domain.NewCaptureError("RecorderError", err)
	}
	if err := rec.Start(); err != nil {
		_ = rec.Stop()
		return nil, domain.NewCaptureError("RecorderError", err)
	}

	h := &EncoderHandle{
		format:    format,
		recorder:  rec,
		clock:     e.clock,
		startedAt: e.clock.Now(),
		onChunk:   onChunk,
		onError:   onError,
		quit:      make(chan struct{}),
		logger:    e.logger,
	}
	h.ticker = e.clock.NewTicker(e.cfg.Cadence)
	go h.run()

	e.active = h
	e.logger.Infow("encoder started", "format", format, "cadence", e.cfg.Cadence)
	return h, nil
}

// Stop halts h. Calling it with nil or an already stopped handle is a no-op.
// Once Stop returns no further chunk reaches onChunk.
func (e *ChunkEncoder) Stop(h *EncoderHandle) {
	if h == nil {
		return
	}
	if h.stop() {
		e.logger.Infow("encoder stopped", "format", h.format, "chunks", h.Emitted())
	}

	e.mu.Lock()
	if e.active == h {
		e.active = nil
	}
	e.mu.Unlock()
}

type EncoderHandle struct {
	format    domain.ContainerFormat
	recorder  ports.Recorder
	clock     clockwork.Clock
	startedAt time.Time
	onChunk   func(domain.Chunk)
	onError   func(error)
	ticker    clockwork.Ticker
	quit      chan struct{}
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	seq     uint64
}

func (h *EncoderHandle) Format() domain.ContainerFormat {
	return h.format
}

func (h *EncoderHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Emitted returns the number of chunks handed to the sink so far.
func (h *EncoderHandle) Emitted() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *EncoderHandle) run() {
	for {
		select {
		case <-h.quit:
			return
		case <-h.ticker.Chan():
			if !h.tick() {
				return
			}
		}
	}
}

func (h *EncoderHandle) tick() bool {
	data, err := h.recorder.Flush()
	if err != nil {
		if h.stop() {
			h.logger.Errorw("recorder failed", "format", h.format, "error", err)
			if h.onError != nil {
				h.onError(domain.NewCaptureError("EncoderError", err))
			}
		}
		return false
	}
	if len(data) == 0 {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	chunk := domain.Chunk{
		SequenceNumber: h.seq,
		Payload:        data,
		TimestampMs:    uint64(h.clock.Since(h.startedAt).Milliseconds()),
	}
	h.seq++
	h.onChunk(chunk)
	return true
}

// stop reports whether this call performed the transition.
func (h *EncoderHandle) stop() bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.stopped = true
	h.mu.Unlock()

	h.ticker.Stop()
	close(h.quit)
	if err := h.recorder.Stop(); err != nil {
		h.logger.Warnw("recorder stop failed", "format", h.format, "error", err)
	}
	return true
}
