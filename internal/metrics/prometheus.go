package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	datagramsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_datagrams_sent_total",
			Help: "Submissions forwarded to the storage daemon",
		},
		[]string{"result"},
	)

	datagramsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgboard_datagrams_received_total",
			Help: "Datagrams read by the storage daemon",
		},
	)

	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgboard_datagrams_dropped_total",
			Help: "Datagrams the storage daemon did not persist",
		},
		[]string{"reason"},
	)

	datagramsTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgboard_datagrams_truncated_total",
			Help: "Datagrams longer than the receive limit",
		},
	)

	recordsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgboard_records_stored_total",
			Help: "Records written to the JSON store",
		},
	)

	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msgboard_feed_clients",
			Help: "Connected live feed clients",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(datagramsSent)
	prometheus.MustRegister(datagramsReceived)
	prometheus.MustRegister(datagramsDropped)
	prometheus.MustRegister(datagramsTruncated)
	prometheus.MustRegister(recordsStored)
	prometheus.MustRegister(feedClients)
}

// Drop reasons.
const (
	ReasonMalformed = "malformed"
	ReasonStore     = "store"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		route := routeLabel(r)

		httpRequestsTotal.WithLabelValues(
			route,
			r.Method,
			statusString(wrapped.statusCode),
		).Inc()

		httpRequestDuration.WithLabelValues(
			route,
			r.Method,
		).Observe(duration)
	})
}

// routeLabel uses the mux route name so static files all count as one
// route instead of one series per path.
func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusString(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func DatagramSent(err error) {
	if err != nil {
		datagramsSent.WithLabelValues("error").Inc()
		return
	}
	datagramsSent.WithLabelValues("ok").Inc()
}

func DatagramReceived() {
	datagramsReceived.Inc()
}

func DatagramTruncated() {
	datagramsTruncated.Inc()
}

func DatagramDropped(reason string) {
	datagramsDropped.WithLabelValues(reason).Inc()
}

func RecordStored() {
	recordsStored.Inc()
}

func FeedClientConnected() {
	feedClients.Inc()
}

func FeedClientDisconnected() {
	feedClients.Dec()
}
