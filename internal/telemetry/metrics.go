package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// Metrics owns the process-wide domain.GlobalMetrics record plus its
// Prometheus mirror, matching the teacher's
// internal/infra/telemetry/prometheus.go shape (PrometheusMetrics)
// adapted to this proxy's metric names. It is the single place the
// router records call outcomes (spec §3, §4.E "Metrics").
type Metrics struct {
	mu     sync.Mutex
	global domain.GlobalMetrics

	requestsTotal   *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	serverErrors    *prometheus.CounterVec
	activeInstances prometheus.Gauge
	activeSessions  prometheus.Gauge
}

// NewMetrics constructs a Metrics instance registered against reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		global: domain.GlobalMetrics{
			StartTime: time.Now(),
			Servers:   make(map[string]*domain.ServerMetrics),
		},
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_proxy_requests_total",
			Help: "Total tool-call requests routed through the proxy.",
		}, []string{"server"}),
		routeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_proxy_route_duration_seconds",
			Help:    "Latency of execute/passthrough tool calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
		serverErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_proxy_server_errors_total",
			Help: "Total tool-call errors per upstream server.",
		}, []string{"server"}),
		activeInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_proxy_active_instances",
			Help: "Number of running child-process pools.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_proxy_active_sse_sessions",
			Help: "Number of live SSE sessions.",
		}),
	}
}

// RecordCall records the outcome of an execute/passthrough tool call
// against server (spec §4.E "Metrics").
func (m *Metrics) RecordCall(server string, d time.Duration, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.global.TotalRequests++
	sm, ok := m.global.Servers[server]
	if !ok {
		sm = &domain.ServerMetrics{}
		m.global.Servers[server] = sm
	}
	sm.CallCount++
	sm.TotalLatencyMs += d.Milliseconds()
	sm.LastCallTime = time.Now()
	if callErr != nil {
		sm.ErrorCount++
		sm.LastError = callErr.Error()
		m.serverErrors.WithLabelValues(server).Inc()
	}

	m.requestsTotal.WithLabelValues(server).Inc()
	m.routeDuration.WithLabelValues(server).Observe(d.Seconds())
}

// SetActiveInstances mirrors the current running-pool count.
func (m *Metrics) SetActiveInstances(n int) {
	m.activeInstances.Set(float64(n))
}

// SetActiveSessions mirrors the current SSE session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.mu.Lock()
	m.global.ActiveSSESessions = int64(n)
	m.mu.Unlock()
	m.activeSessions.Set(float64(n))
}

// Snapshot returns a deep copy of the GlobalMetrics record.
func (m *Metrics) Snapshot() domain.GlobalMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := domain.GlobalMetrics{
		StartTime:         m.global.StartTime,
		TotalRequests:     m.global.TotalRequests,
		ActiveSSESessions: m.global.ActiveSSESessions,
		Servers:           make(map[string]*domain.ServerMetrics, len(m.global.Servers)),
	}
	for name, sm := range m.global.Servers {
		cp := *sm
		out.Servers[name] = &cp
	}
	return out
}
