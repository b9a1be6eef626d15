package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lecternfm/lectern/internal/synth"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ChunksSynthesized prometheus.Counter
	SynthesisLatency  prometheus.Histogram
	FirstAudioLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of reading sessions currently streaming or paused.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ChunksSynthesized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_synthesized_total",
			Help:      "Text chunks successfully synthesized to audio.",
		}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Per-chunk synthesis latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from play request to first audible chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

// RegisterQueueDepth exposes the audio channel's live depth as a gauge.
func RegisterQueueDepth(namespace string, depth func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audio_queue_depth",
		Help:      "Undelivered audio units held by the bounded channel.",
	}, func() float64 { return float64(depth()) })
}

// InstrumentEngine wraps a synthesis engine so every generation call feeds
// the chunk counter and latency histogram.
func (m *Metrics) InstrumentEngine(e synth.Engine, window *StageWindow) synth.Engine {
	return &instrumentedEngine{inner: e, metrics: m, window: window}
}

type instrumentedEngine struct {
	inner   synth.Engine
	metrics *Metrics
	window  *StageWindow
}

func (e *instrumentedEngine) Generate(ctx context.Context, text string, opts synth.Options) ([]float32, error) {
	start := time.Now()
	samples, err := e.inner.Generate(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	ms := float64(time.Since(start).Milliseconds())
	e.metrics.ChunksSynthesized.Inc()
	e.metrics.SynthesisLatency.Observe(ms)
	e.window.Observe(StageChunkSynthesis, ms)
	return samples, nil
}

func (e *instrumentedEngine) SampleRate() int { return e.inner.SampleRate() }

func (e *instrumentedEngine) Close() error { return e.inner.Close() }

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
