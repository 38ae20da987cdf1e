package monitoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"rillcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrometheusCollector_StateGauge(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("idle")))

	p.RecordStateChange(domain.StateIdle, domain.StateConnecting)
	p.RecordStateChange(domain.StateConnecting, domain.StateStreaming)

	assert.Equal(t, 0.0, testutil.ToFloat64(p.state.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.state.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("streaming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transitionsTotal.WithLabelValues("connecting", "streaming")))
}

func TestPrometheusCollector_ChunksAndSessions(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.RecordSessionStarted()
	p.RecordChunk(4096)
	p.RecordChunk(1024)
	p.RecordWarmUp(15 * time.Second)
	p.RecordError("transport")
	p.RecordSessionEnded(time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.chunksTotal))
	assert.Equal(t, 5120.0, testutil.ToFloat64(p.chunkBytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.errorsTotal.WithLabelValues("transport")))
}

func TestPrometheusCollector_IsolatedRegistries(t *testing.T) {
	// Two collectors on separate registries must not panic on duplicate names.
	NewPrometheusCollector(prometheus.NewRegistry())
	NewPrometheusCollector(prometheus.NewRegistry())
}

type fakePinger struct{ err error }

func (f fakePinger) HealthCheck(ctx context.Context) error { return f.err }

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddDependencyCheck("redis", fakePinger{}, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddDependencyCheck("relay", fakePinger{err: errors.New("unreachable")}, 0, time.Second)
	status := h.CheckAll(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["redis"].Status)
	assert.Equal(t, StatusUnhealthy, status.Checks["relay"].Status)
	assert.Equal(t, "unreachable", status.Checks["relay"].Error)
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FFmpegMissing(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddFFmpegCheck("/nonexistent/ffmpeg-binary", 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["ffmpeg"].Error, "ffmpeg not found")
}

func TestHealthChecker_MemoryCheck(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddMemoryCheck(math.MaxUint64, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h = NewHealthChecker(zap.NewNop().Sugar())
	h.AddMemoryCheck(1, 0, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["memory"].Error, "exceeds 1")
}

func TestHealthChecker_LatestDoesNotRunChecks(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	var calls int
	h.AddCheck("relay", func(ctx context.Context) error {
		calls++
		return nil
	}, 0, time.Second)

	latest := h.Latest()
	assert.Equal(t, StatusHealthy, latest.Status)
	assert.Empty(t, latest.Checks)
	assert.Zero(t, calls)

	h.CheckAll(context.Background())
	latest = h.Latest()
	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusHealthy, latest.Checks["relay"].Status)
}

func TestHealthChecker_RecoveryIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHealthChecker(zap.New(core).Sugar())
	dep := &fakePinger{err: errors.New("connection refused")}
	h.AddDependencyCheck("redis", dep, 0, time.Second)

	h.CheckAll(context.Background())
	h.CheckAll(context.Background())
	dep.err = nil
	h.CheckAll(context.Background())

	// A check that keeps failing is only reported once.
	assert.Equal(t, 1, logs.FilterMessage("health check failing").Len())
	assert.Equal(t, 1, logs.FilterMessage("health check recovered").Len())
}

func TestHealthChecker_BackgroundChecksFollowInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.clock = clock

	calls := make(chan struct{}, 10)
	h.AddCheck("tick", func(ctx context.Context) error {
		calls <- struct{}{}
		return nil
	}, 30*time.Second, time.Second)
	h.AddCheck("on-demand", func(ctx context.Context) error {
		t.Error("check without interval ran in the background")
		return nil
	}, 0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	clock.BlockUntil(1)
	assert.Empty(t, calls)
	clock.Advance(30 * time.Second)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("background check never ran")
	}
	assert.Eventually(t, func() bool {
		return h.Latest().Checks["tick"].Status == StatusHealthy
	}, time.Second, 5*time.Millisecond)
}
