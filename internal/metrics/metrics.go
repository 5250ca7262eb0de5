// Package metrics exposes Prometheus counters for playback, sessions and webhooks.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	playbackDenied  *prometheus.CounterVec
	webhooksTotal   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playback_sessions_started_total",
			Help: "View sessions created",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_sessions_ended_total",
			Help: "View sessions ended, by cause (client or stream_stop)",
		}, []string{"cause"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playback_sessions_active",
			Help: "View sessions started and not yet ended by this process",
		}),
		playbackDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_denied_total",
			Help: "Playback requests refused, by reason",
		}, []string{"reason"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_webhooks_total",
			Help: "Encoder webhooks by event and outcome",
		}, []string{"event", "outcome"}),
	}
	registry.MustRegister(
		m.requestsTotal,
		m.sessionsStarted,
		m.sessionsEnded,
		m.activeSessions,
		m.playbackDenied,
		m.webhooksTotal,
	)
	return m
}

// SessionStarted counts a new session. Safe on a nil receiver.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

// SessionEnded counts a session reaching ENDED.
func (m *Metrics) SessionEnded(cause string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(cause).Inc()
	m.activeSessions.Dec()
}

// PlaybackDenied counts a refused playback request.
func (m *Metrics) PlaybackDenied(reason string) {
	if m == nil {
		return
	}
	m.playbackDenied.WithLabelValues(reason).Inc()
}

// Webhook counts an encoder callback.
func (m *Metrics) Webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(event, outcome).Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records one request per matched gin route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
