package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_ws_active_connections",
			Help: "Number of active push channel connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_ws_events_total",
			Help: "Total number of push channel events by name.",
		},
		[]string{"event"},
	)
	channelReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_channel_reconnect_attempts_total",
			Help: "Total number of push channel reconnect attempts.",
		},
	)
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_poll_ticks_total",
			Help: "Total number of degraded-mode poll ticks per synchronizer.",
		},
		[]string{"target"},
	)
	modeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mode_transitions_total",
			Help: "Total number of push/poll mode transitions.",
		},
		[]string{"mode"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		channelReconnectsTotal,
		pollTicksTotal,
		modeTransitionsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncChannelReconnect() {
	channelReconnectsTotal.Inc()
}

func IncPollTick(target string) {
	pollTicksTotal.WithLabelValues(target).Inc()
}

func IncModeTransition(mode string) {
	modeTransitionsTotal.WithLabelValues(mode).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
