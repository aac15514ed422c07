package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics records request counts and latencies per route pattern.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseBytes   *prometheus.CounterVec
}

// NewHTTPMetrics creates the HTTP collectors. Returns nil when metrics
// are disabled, which the middleware treats as a no-op.
func NewHTTPMetrics() *HTTPMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &HTTPMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudrove_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		responseBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_http_response_bytes_total",
				Help: "Total response bytes by route",
			},
			[]string{"route"},
		),
	}
}

// Middleware wraps handlers with request accounting. A nil receiver is
// a pass-through.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The route pattern keeps cardinality bounded; raw paths would
		// explode the label space with object keys.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.responseBytes.WithLabelValues(route).Add(float64(ww.BytesWritten()))
	})
}
