package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notebook_lsp"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Analysis server metrics
	ProcessesActive   prometheus.Gauge
	ProcessSpawns     *prometheus.CounterVec
	ProcessExits      prometheus.Counter
	HandshakeDuration prometheus.Histogram
	LSPRequests       *prometheus.CounterVec
	LSPDuration       *prometheus.HistogramVec
	LSPNotifications  *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	ActiveServers  int64   `json:"active_servers"`
	LSPRequests    int64   `json:"lsp_requests"`
	LSPTimeouts    int64   `json:"lsp_timeouts"`
	FramesDropped  int64   `json:"frames_dropped"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live notebook sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of notebook sessions created",
		}),

		ProcessesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_servers_active",
			Help:      "Number of running analysis servers",
		}),
		ProcessSpawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_server_spawns_total",
				Help:      "Analysis server spawn attempts by outcome",
			},
			[]string{"status"},
		),
		ProcessExits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_server_exits_total",
			Help:      "Analysis servers that terminated",
		}),
		HandshakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_server_handshake_seconds",
			Help:      "Time from spawn to a ready analysis server",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		LSPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lsp_requests_total",
				Help:      "Correlated requests sent to analysis servers",
			},
			[]string{"method", "status"},
		),
		LSPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lsp_request_duration_seconds",
				Help:      "Round trip of correlated requests",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		LSPNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lsp_notifications_total",
				Help:      "Notifications by direction and method",
			},
			[]string{"direction", "method"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lsp_frames_dropped_total",
				Help:      "Frames discarded by the decoder",
			},
			[]string{"reason"},
		),

		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
			[]string{"channel"},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"channel", "direction"},
		),

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Code executions by outcome",
			},
			[]string{"status"},
		),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Code execution wall time",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Server uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal counts a newly created session
func (m *Metrics) IncSessionsTotal() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// RecordSpawn records a spawn attempt and, on success, a running server
func (m *Metrics) RecordSpawn(status string, handshake time.Duration) {
	if m == nil {
		return
	}
	m.ProcessSpawns.WithLabelValues(status).Inc()
	if status != "ok" {
		return
	}
	m.HandshakeDuration.Observe(handshake.Seconds())
	m.ProcessesActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveServers++
	m.mu.Unlock()
}

// RecordExit records a running server that terminated
func (m *Metrics) RecordExit() {
	if m == nil {
		return
	}
	m.ProcessExits.Inc()
	m.ProcessesActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveServers--
	m.mu.Unlock()
}

// RecordLSPRequest records one correlated request and its outcome
func (m *Metrics) RecordLSPRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LSPRequests.WithLabelValues(method, status).Inc()
	m.LSPDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.LSPRequests++
	if status == "timeout" {
		m.snapshot.LSPTimeouts++
	}
	m.mu.Unlock()
}

// RecordLSPNotification records a notification sent or received
func (m *Metrics) RecordLSPNotification(direction, method string) {
	if m == nil {
		return
	}
	m.LSPNotifications.WithLabelValues(direction, method).Inc()
}

// RecordDroppedFrame records a frame the decoder discarded
func (m *Metrics) RecordDroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.FramesDropped++
	m.mu.Unlock()
}

// IncWSConnections increments WebSocket connections on a channel
func (m *Metrics) IncWSConnections(channel string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(channel).Inc()
}

// DecWSConnections decrements WebSocket connections on a channel
func (m *Metrics) DecWSConnections(channel string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(channel).Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(channel, direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(channel, direction).Inc()
}

// RecordExecution records a finished code execution
func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
}

// Snapshot returns the current summary values
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
