// Package observability holds the Prometheus collectors of the messaging server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of registered websocket connections (one per online user).",
		},
	)
	wsFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_frames_total",
			Help: "Websocket frames by direction and type.",
		},
		[]string{"direction", "type"},
	)
	wsEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_evictions_total",
			Help: "Connections closed by the server, by reason.",
		},
		[]string{"reason"},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_presence_transitions_total",
			Help: "Online/offline transitions broadcast to peers.",
		},
		[]string{"online"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_total",
			Help: "Persisted messages by delivery path.",
		},
		[]string{"delivery"},
	)
	httpPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_http_panics_total",
			Help: "Handler panics recovered into a 500 response.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsFramesTotal,
		wsEvictionsTotal,
		presenceTransitionsTotal,
		messagesTotal,
		httpPanicsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetrics records request counts and latencies labelled by the chi route pattern.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func SetWSActive(n int) {
	wsActiveConnections.Set(float64(n))
}

func IncWSFrame(direction, frameType string) {
	wsFramesTotal.WithLabelValues(direction, frameType).Inc()
}

func IncWSEviction(reason string) {
	wsEvictionsTotal.WithLabelValues(reason).Inc()
}

func IncPresenceTransition(online bool) {
	presenceTransitionsTotal.WithLabelValues(strconv.FormatBool(online)).Inc()
}

// IncMessage counts a persisted message; delivery is "live", "relayed" or "stored".
func IncMessage(delivery string) {
	messagesTotal.WithLabelValues(delivery).Inc()
}

func IncHTTPPanic() {
	httpPanicsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
