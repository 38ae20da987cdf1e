package ports

import (
	"context"
	"net/url"

	"rillcast/internal/core/domain"
)

// LinkEvents are invoked from the link's own goroutines. Handlers must not block.
type LinkEvents struct {
	// OnMessage receives inbound text frames verbatim.
	OnMessage func(text string)
	// OnError reports a transport failure after the link was opened. It fires at
	// most once and never after Close.
	OnError func(err error)
}

type RelayDialer interface {
	// Open returns once the remote acknowledged the connection.
	Open(ctx context.Context, endpoint *url.URL, events LinkEvents) (RelayConnection, error)
}

type RelayConnection interface {
	// Send queues a chunk for in-order delivery. It never blocks and reports no
	// backpressure.
	Send(chunk domain.Chunk)
	// Close releases the connection. Safe to call repeatedly.
	Close() error
	IsOpen() bool
}
