package synthetic

import (
	"errors"
	"fmt"
	"sync"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
)

var errRecorderStopped = errors.New("synthetic recorder is not running")

func (p *Platform) IsTypeSupported(mimeType domain.ContainerFormat) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.opts.Supported {
		if f == mimeType {
			return true
		}
	}
	return false
}

func (p *Platform) NewRecorder(stream ports.MediaStream, opts ports.RecorderOptions) (ports.Recorder, error) {
	if !p.IsTypeSupported(opts.MimeType) {
		return nil, fmt.Errorf("format %s not supported", opts.MimeType)
	}
	for _, t := range stream.Tracks() {
		if !t.Live() {
			return nil, &ports.PlatformError{Name: "InvalidStateError", Message: "stream has ended tracks"}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := &Recorder{stream: stream, mimeType: opts.MimeType, chunkSize: p.opts.ChunkSize, opts: opts}
	p.lastRec = rec
	return rec, nil
}

// Recorder produces one payload per Flush. The payload starts with a readable
// header naming the stream, format and frame index.
type Recorder struct {
	stream    ports.MediaStream
	mimeType  domain.ContainerFormat
	chunkSize int
	opts      ports.RecorderOptions

	mu      sync.Mutex
	running bool
	frame   int
	failErr error
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Options returns the options the recorder was created with.
func (r *Recorder) Options() ports.RecorderOptions {
	return r.opts
}

// FailWith makes the next Flush return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *Recorder) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	if !r.running {
		return nil, errRecorderStopped
	}
	header := fmt.Sprintf("%s|%s|%d|", r.stream.ID(), r.mimeType, r.frame)
	r.frame++
	buf := make([]byte, r.chunkSize)
	n := copy(buf, header)
	for i := n; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf, nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	return nil
}
