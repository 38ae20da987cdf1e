package monitoring

import (
	"time"

	"rillcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records pipeline metrics. It implements
// ports.MetricsRecorder.
type PrometheusCollector struct {
	state            *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec

	chunksTotal     prometheus.Counter
	chunkBytesTotal prometheus.Counter
	chunkSize       prometheus.Histogram

	warmUpDuration  prometheus.Histogram
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
}

// NewPrometheusCollector registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	p := &PrometheusCollector{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillcast_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcast_state_transitions_total",
			Help: "Connection state transitions",
		}, []string{"from", "to"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcast_errors_total",
			Help: "Pipeline errors by kind",
		}, []string{"kind"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillcast_chunks_sent_total",
			Help: "Encoded chunks handed to the relay link",
		}),

		chunkBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillcast_chunk_bytes_total",
			Help: "Encoded bytes handed to the relay link",
		}),

		chunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillcast_chunk_size_bytes",
			Help:    "Size of encoded chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),

		warmUpDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillcast_warmup_duration_seconds",
			Help:    "Time from relay acknowledgment to the first encoder start",
			Buckets: []float64{1, 5, 10, 15, 16, 20, 30},
		}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rillcast_sessions_active",
			Help: "Stream sessions currently in progress",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rillcast_sessions_total",
			Help: "Stream sessions started",
		}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillcast_session_duration_seconds",
			Help:    "Duration of stream sessions",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	for _, s := range domain.AllConnectionStates() {
		p.state.WithLabelValues(s.String()).Set(0)
	}
	p.state.WithLabelValues(domain.StateIdle.String()).Set(1)
	return p
}

func (p *PrometheusCollector) RecordStateChange(from, to domain.ConnectionState) {
	p.state.WithLabelValues(from.String()).Set(0)
	p.state.WithLabelValues(to.String()).Set(1)
	p.transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}

func (p *PrometheusCollector) RecordChunk(size int) {
	p.chunksTotal.Inc()
	p.chunkBytesTotal.Add(float64(size))
	p.chunkSize.Observe(float64(size))
}

func (p *PrometheusCollector) RecordWarmUp(elapsed time.Duration) {
	p.warmUpDuration.Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) RecordError(kind string) {
	p.errorsTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordSessionStarted() {
	p.sessionsTotal.Inc()
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) RecordSessionEnded(duration time.Duration) {
	p.sessionsActive.Dec()
	p.sessionDuration.Observe(duration.Seconds())
}
