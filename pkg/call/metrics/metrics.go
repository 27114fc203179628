// Package metrics exposes Prometheus collectors for a call session. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-go/vai-call/pkg/call"
)

// Metrics holds all Prometheus metrics for the call client.
type Metrics struct {
	registry *prometheus.Registry

	// Wire metrics
	FramesIn      *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	ServerErrors  prometheus.Counter

	// Capture metrics
	ClipsSent      prometheus.Counter
	ClipBytes      prometheus.Histogram
	ClipsDiscarded prometheus.Counter

	// Playback metrics
	SegmentsEnqueued prometheus.Counter
	SegmentsPlayed   *prometheus.CounterVec

	// Session metrics
	Status   *prometheus.GaugeVec
	Sessions *prometheus.CounterVec
}

// New creates a Metrics instance registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_call"
	}

	registry := prometheus.NewRegistry()

	framesIn := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound control frames by type",
		},
		[]string{"type"},
	)

	framesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before dispatch",
		},
		[]string{"reason"},
	)

	serverErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Error events reported by the server",
		},
	)

	clipsSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_sent_total",
			Help:      "Recorded clips sent to the server",
		},
	)

	clipBytes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_bytes",
			Help:      "Size of recorded clips in PCM bytes",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
		},
	)

	clipsDiscarded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_discarded_total",
			Help:      "Clips discarded locally without being sent",
		},
	)

	segmentsEnqueued := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_enqueued_total",
			Help:      "Speech segments added to the playback queue",
		},
	)

	segmentsPlayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_played_total",
			Help:      "Speech segments that finished playing",
		},
		[]string{"result"},
	)

	status := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise",
		},
		[]string{"status"},
	)

	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session open attempts",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		framesIn,
		framesDropped,
		serverErrors,
		clipsSent,
		clipBytes,
		clipsDiscarded,
		segmentsEnqueued,
		segmentsPlayed,
		status,
		sessions,
	)

	for _, s := range call.Statuses {
		status.WithLabelValues(string(s)).Set(0)
	}

	return &Metrics{
		registry:         registry,
		FramesIn:         framesIn,
		FramesDropped:    framesDropped,
		ServerErrors:     serverErrors,
		ClipsSent:        clipsSent,
		ClipBytes:        clipBytes,
		ClipsDiscarded:   clipsDiscarded,
		SegmentsEnqueued: segmentsEnqueued,
		SegmentsPlayed:   segmentsPlayed,
		Status:           status,
		Sessions:         sessions,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(frameType).Inc()
}

// RecordDropped counts a frame that never reached dispatch.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordServerError() {
	if m == nil {
		return
	}
	m.ServerErrors.Inc()
}

func (m *Metrics) RecordClipSent(bytes int) {
	if m == nil {
		return
	}
	m.ClipsSent.Inc()
	m.ClipBytes.Observe(float64(bytes))
}

func (m *Metrics) RecordClipDiscarded() {
	if m == nil {
		return
	}
	m.ClipsDiscarded.Inc()
}

func (m *Metrics) RecordSegmentEnqueued() {
	if m == nil {
		return
	}
	m.SegmentsEnqueued.Inc()
}

// RecordSegmentPlayed counts a finished segment as ok or error.
func (m *Metrics) RecordSegmentPlayed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SegmentsPlayed.WithLabelValues(result).Inc()
}

// SetStatus marks current as the only active status.
func (m *Metrics) SetStatus(current call.Status) {
	if m == nil {
		return
	}
	for _, s := range call.Statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.Status.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(result).Inc()
}
