package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gallery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The total number of handled HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestSeconds = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "gallery",
			Subsystem:  "http",
			Name:       "request_seconds",
			Help:       "Time spent handling HTTP requests",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"method", "route"},
	)
)

// RequestLogger logs one line per request and records request metrics.
// It must run after middleware.RequestID.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestSeconds.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		entry := log.WithFields(log.Fields{
			"requestID": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"uri":       r.RequestURI,
			"route":     route,
			"status":    status,
			"duration":  elapsed,
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP request complete.")
			return
		}
		entry.Debug("HTTP request complete.")
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
