package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timesheet_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timesheet_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	RegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timesheet_registrations_total",
			Help: "Total number of registered users",
		},
	)

	ClockEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_clock_events_total",
			Help: "Clock-in and clock-out events",
		},
		[]string{"event"},
	)

	ProjectsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timesheet_projects_created_total",
			Help: "Total number of created projects",
		},
	)

	ProjectsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timesheet_projects_completed_total",
			Help: "Total number of completed projects",
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records count, latency and in-flight requests per normalized path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%dxx", rec.status/100)).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// NormalizePath collapses ids so label cardinality stays bounded:
// /clock_in/42 becomes /clock_in/{id}.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/captcha/") {
		return "/captcha/{id}"
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
