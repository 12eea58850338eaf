package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the live bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionDuration prometheus.Histogram

	// Bridge session metrics
	SessionsTotal *prometheus.CounterVec

	// Message metrics
	ClientMessagesTotal *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec

	// Media metrics
	AudioTurnBytes    prometheus.Histogram
	AudioInputBytes   prometheus.Counter
	ScreenFramesTotal prometheus.Counter
	UploadsTotal      *prometheus.CounterVec

	// Error metrics
	ErrorsTotal        *prometheus.CounterVec
	RateLimitHitsTotal prometheus.Counter
}

// New creates a Metrics instance with every collector registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "live_bridge"
	}

	registry := prometheus.NewRegistry()

	connectionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of open client websocket connections",
	})

	connectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Total number of accepted client websocket connections",
	})

	connectionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connection_duration_seconds",
		Help:      "Client connection duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Upstream session outcomes",
	}, []string{"outcome"})

	clientMessagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_messages_total",
		Help:      "Inbound client messages by type",
	}, []string{"type"})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Outbound events by type",
	}, []string{"type"})

	audioTurnBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "audio_turn_bytes",
		Help:      "PCM payload bytes per flushed response turn",
		Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
	})

	audioInputBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_input_bytes_total",
		Help:      "Client audio bytes forwarded upstream",
	})

	screenFramesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "screen_frames_total",
		Help:      "Screen share frames received from clients",
	})

	uploadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "File uploads by status",
	}, []string{"status"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Error events sent to clients by code",
	}, []string{"code"})

	rateLimitHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_hits_total",
		Help:      "Client messages dropped by the inbound rate limit",
	})

	registry.MustRegister(
		connectionsActive,
		connectionsTotal,
		connectionDuration,
		sessionsTotal,
		clientMessagesTotal,
		eventsTotal,
		audioTurnBytes,
		audioInputBytes,
		screenFramesTotal,
		uploadsTotal,
		errorsTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:            registry,
		ConnectionsActive:   connectionsActive,
		ConnectionsTotal:    connectionsTotal,
		ConnectionDuration:  connectionDuration,
		SessionsTotal:       sessionsTotal,
		ClientMessagesTotal: clientMessagesTotal,
		EventsTotal:         eventsTotal,
		AudioTurnBytes:      audioTurnBytes,
		AudioInputBytes:     audioInputBytes,
		ScreenFramesTotal:   screenFramesTotal,
		UploadsTotal:        uploadsTotal,
		ErrorsTotal:         errorsTotal,
		RateLimitHitsTotal:  rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordConnectionStart records a new client connection.
func (m *Metrics) RecordConnectionStart() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordConnectionEnd records a client connection ending.
func (m *Metrics) RecordConnectionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(duration.Seconds())
}

// RecordSession records an upstream session outcome (opened, failed, closed).
func (m *Metrics) RecordSession(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordClientMessage(msgType string) {
	if m == nil {
		return
	}
	m.ClientMessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordAudioTurn(payloadBytes int) {
	if m == nil {
		return
	}
	m.AudioTurnBytes.Observe(float64(payloadBytes))
}

func (m *Metrics) RecordAudioInput(bytes int) {
	if m == nil {
		return
	}
	m.AudioInputBytes.Add(float64(bytes))
}

func (m *Metrics) RecordScreenFrame() {
	if m == nil {
		return
	}
	m.ScreenFramesTotal.Inc()
}

func (m *Metrics) RecordUpload(status string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.Inc()
}
