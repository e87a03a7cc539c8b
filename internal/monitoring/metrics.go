// Package monitoring exposes Prometheus metrics for the service.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ProxyFetches     *prometheus.CounterVec
	ProxyRewrites    *prometheus.CounterVec
	ScriptSubstitute prometheus.Counter
	TrackingSessions prometheus.Gauge
	AnnotationsTotal *prometheus.CounterVec
}

// New registers and returns the service metrics.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canfeed_http_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canfeed_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ProxyFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canfeed_proxy_fetches_total",
			Help: "Upstream fetches by outcome.",
		}, []string{"outcome"}),

		ProxyRewrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canfeed_proxy_rewrites_total",
			Help: "Rewritten responses by content class.",
		}, []string{"class"}),

		ScriptSubstitute: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canfeed_proxy_script_substitutions_total",
			Help: "Script responses replaced with an error stub.",
		}),

		TrackingSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "canfeed_tracking_sessions",
			Help: "Open tracking websocket sessions.",
		}),

		AnnotationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canfeed_annotations_total",
			Help: "Annotation operations by kind.",
		}, []string{"op"}),
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
