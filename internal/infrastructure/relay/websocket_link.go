package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
	"rillcast/pkg/logger"
	"rillcast/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval enables keepalive pings when > 0.
	PingInterval time.Duration
	// StreamKey is masked in logs.
	StreamKey string
}

// Dialer opens websocket links to the relay endpoint.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

func NewDialer(cfg Config, logger *zap.SugaredLogger) *Dialer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: logger,
	}
}

// Open dials endpoint and returns once the websocket handshake completed,
// which is the relay's open acknowledgment.
func (d *Dialer) Open(ctx context.Context, endpoint *url.URL, events ports.LinkEvents) (ports.RelayConnection, error) {
	redacted := Redact(endpoint, d.cfg.StreamKey)
	sessionID := logger.SessionID(ctx)

	ctx, span := tracing.TraceRelay(ctx, "open", redacted)
	defer span.End()

	conn, resp, err := d.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		tracing.RecordError(ctx, err)
		d.logger.Errorw("relay handshake failed", "endpoint", redacted, "session_id", sessionID, "error", err)
		return nil, domain.NewTransportError("handshake failed", err)
	}

	link := &Link{
		conn:     conn,
		events:   events,
		cfg:      d.cfg,
		endpoint: redacted,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   d.logger,
	}

	d.logger.Infow("relay link open", "endpoint", redacted, "session_id", sessionID)

	go link.readLoop()
	go link.writeLoop()
	return link, nil
}

// Link is an open relay connection. Chunks are written as binary frames in
// the order Send was called; inbound text frames are passed to OnMessage.
type Link struct {
	conn     *websocket.Conn
	events   ports.LinkEvents
	cfg      Config
	endpoint string
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	queue  []domain.Chunk
	closed bool
	failed bool
	sent   uint64
	bytes  uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (l *Link) Send(chunk domain.Chunk) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debugw("chunk dropped on closed link", "sequence", chunk.SequenceNumber)
		return
	}
	l.queue = append(l.queue, chunk)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Stats returns the number of chunks and payload bytes written so far.
func (l *Link) Stats() (chunks, bytes uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent, l.bytes
}

// Close drops queued chunks and releases the socket without a closing
// handshake. Repeated calls return nil.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		dropped := len(l.queue)
		l.queue = nil
		sent := l.sent
		l.mu.Unlock()

		close(l.done)
		_ = l.conn.Close()

		l.logger.Infow("relay link closed", "endpoint", l.endpoint, "chunks_sent", sent, "chunks_dropped", dropped)
	})
	return nil
}

func (l *Link) readLoop() {
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.fail(fmt.Errorf("relay closed the connection: %w", err))
				return
			}
			l.fail(err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if l.events.OnMessage != nil {
				l.events.OnMessage(string(data))
			}
		default:
			l.logger.Debugw("ignoring non-text relay frame", "type", messageType, "size", len(data))
		}
	}
}

func (l *Link) writeLoop() {
	var pings <-chan time.Time
	if l.cfg.PingInterval > 0 {
		ticker := time.NewTicker(l.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-l.done:
			return

		case <-l.wake:
			if err := l.drain(); err != nil {
				l.fail(err)
				return
			}

		case <-pings:
			deadline := time.Now().Add(l.cfg.WriteTimeout)
			if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.fail(err)
				return
			}
		}
	}
}

func (l *Link) drain() error {
	for {
		l.mu.Lock()
		if l.closed || len(l.queue) == 0 {
			l.mu.Unlock()
			return nil
		}
		chunk := l.queue[0]
		l.queue[0] = domain.Chunk{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		if err := l.conn.WriteMessage(websocket.BinaryMessage, chunk.Payload); err != nil {
			return err
		}

		l.mu.Lock()
		l.sent++
		l.bytes += uint64(len(chunk.Payload))
		l.mu.Unlock()
	}
}

// fail reports a transport error once, unless the link was closed locally.
func (l *Link) fail(err error) {
	l.mu.Lock()
	if l.closed || l.failed {
		l.mu.Unlock()
		return
	}
	l.failed = true
	l.mu.Unlock()

	l.logger.Errorw("relay link error", "endpoint", l.endpoint, "error", err)
	if l.events.OnError != nil {
		l.events.OnError(domain.NewTransportError("link error", err))
	}
}
