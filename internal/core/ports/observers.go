package ports

import (
	"time"

	"rillcast/internal/core/domain"
)

// StatusSink receives every recomputed snapshot, in transition order. OnStatus
// is called with the controller lock held and must not block or call back.
type StatusSink interface {
	OnStatus(snapshot domain.StatusSnapshot)
}

type MetricsRecorder interface {
	RecordStateChange(from, to domain.ConnectionState)
	RecordChunk(size int)
	RecordWarmUp(elapsed time.Duration)
	RecordError(kind string)
	RecordSessionStarted()
	RecordSessionEnded(duration time.Duration)
}
