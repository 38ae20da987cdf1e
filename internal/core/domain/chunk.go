package domain

import "time"

// ContainerFormat is a MIME type understood by the recorder, e.g. "video/webm".
type ContainerFormat string

const (
	FormatWebM ContainerFormat = "video/webm"
	FormatMP4  ContainerFormat = "video/mp4"
)

// DefaultFormats is the negotiation priority list.
var DefaultFormats = []ContainerFormat{FormatWebM, FormatMP4}

// DefaultChunkCadence is the fixed interval between chunk emissions.
const DefaultChunkCadence = time.Second

// Chunk is one timed unit of encoded media. Ownership passes to the transport on
// emission; the transport drops it after a successful send.
type Chunk struct {
	SequenceNumber uint64
	Payload        []byte
	TimestampMs    uint64
}

func (c Chunk) Size() int {
	return len(c.Payload)
}
