// Package metrics holds the Prometheus collectors for the relay. All
// recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notify_relay"

// Frame error kinds.
const (
	ErrorKindUnknown   = "unknown_frame"
	ErrorKindDecode    = "decode"
	ErrorKindTransport = "transport"
)

// Push results.
const (
	PushSent      = "sent"
	PushEmpty     = "empty"
	PushAbandoned = "abandoned"
	PushFailed    = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	frames         *prometheus.CounterVec
	frameErrors    *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	activeSessions prometheus.Gauge
	messages       *prometheus.CounterVec
	imageFallbacks prometheus.Counter
	pushes         *prometheus.CounterVec
	pushedIDs      prometheus.Counter
	icons          *prometheus.CounterVec
	uiClients      prometheus.Gauge
}

// New creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames decoded, by magic and version.",
		}, []string{"magic", "version"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frame_errors_total",
			Help:      "Frame errors, by kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "accepted_total",
			Help:      "Accepted peer connections, by endpoint.",
		}, []string{"endpoint"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open peer sessions.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Ingested messages, by kind.",
		}, []string{"kind"}),
		imageFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "image_fallbacks_total",
			Help:      "Image payloads that could not be decoded and fell back to text.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Read sync push attempts, by result.",
		}, []string{"result"}),
		pushedIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pushed_ids_total",
			Help:      "Message ids confirmed to the peer by read sync pushes.",
		}),
		icons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "icons",
			Name:      "lookups_total",
			Help:      "Icon cache lookups, by result.",
		}, []string{"result"}),
		uiClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "clients",
			Help:      "Connected UI event subscribers.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.frames,
		m.frameErrors,
		m.sessions,
		m.activeSessions,
		m.messages,
		m.imageFallbacks,
		m.pushes,
		m.pushedIDs,
		m.icons,
		m.uiClients,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FrameDecoded(magic string, version uint8) {
	if m == nil {
		return
	}

	m.frames.WithLabelValues(magic, strconv.Itoa(int(version))).Inc()
}

func (m *Metrics) FrameError(kind string) {
	if m == nil {
		return
	}

	m.frameErrors.WithLabelValues(kind).Inc()
}

// SessionOpened counts an accepted connection and returns a func that
// marks it closed.
func (m *Metrics) SessionOpened(endpoint string) func() {
	if m == nil {
		return func() {}
	}

	m.sessions.WithLabelValues(endpoint).Inc()
	m.activeSessions.Inc()

	return m.activeSessions.Dec
}

func (m *Metrics) MessageIngested(kind string) {
	if m == nil {
		return
	}

	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ImageFallback() {
	if m == nil {
		return
	}

	m.imageFallbacks.Inc()
}

func (m *Metrics) Push(result string, ids int) {
	if m == nil {
		return
	}

	m.pushes.WithLabelValues(result).Inc()

	if result == PushSent {
		m.pushedIDs.Add(float64(ids))
	}
}

// IconWritten and IconReused satisfy iconcache.Recorder.
func (m *Metrics) IconWritten() {
	if m == nil {
		return
	}

	m.icons.WithLabelValues("written").Inc()
}

func (m *Metrics) IconReused() {
	if m == nil {
		return
	}

	m.icons.WithLabelValues("reused").Inc()
}

func (m *Metrics) UIClientConnected() func() {
	if m == nil {
		return func() {}
	}

	m.uiClients.Inc()

	return m.uiClients.Dec
}
