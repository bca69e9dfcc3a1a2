package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_notifications_created_total",
			Help: "Total notifications created by type",
		},
		[]string{"type"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_deliveries_total",
			Help: "Queue entry delivery outcomes by channel and result",
		},
		[]string{"channel", "result"},
	)

	deadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_dead_letters_total",
			Help: "Queue entries permanently failed by channel",
		},
		[]string{"channel"},
	)

	dedupSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_dedup_suppressed_total",
			Help: "Candidate alerts suppressed by the dedup guard",
		},
		[]string{"kind"},
	)

	taskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_task_runs_total",
			Help: "Scheduled task executions by task and result",
		},
		[]string{"task", "result"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_task_duration_seconds",
			Help:    "Scheduled task execution time",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"task"},
	)

	queueDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_queue_due_entries",
			Help: "Due queue entries picked up by the last processor batch",
		},
	)

	gatewaySimulated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_gateway_simulated_sends_total",
			Help: "Sends answered in mock mode instead of a real gateway",
		},
		[]string{"channel"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated records a notification creation by type
func RecordNotificationCreated(notifType string) {
	notificationsCreated.WithLabelValues(notifType).Inc()
}

// RecordDelivery records one queue entry outcome ("sent", "retried", "failed")
func RecordDelivery(channel, result string) {
	deliveriesTotal.WithLabelValues(channel, result).Inc()
}

// RecordDeadLetter records a permanently failed queue entry
func RecordDeadLetter(channel string) {
	deadLettersTotal.WithLabelValues(channel).Inc()
}

// RecordDedupSuppressed records an alert suppressed by the dedup guard
func RecordDedupSuppressed(kind string) {
	dedupSuppressed.WithLabelValues(kind).Inc()
}

// RecordTaskRun records a scheduled task execution ("ok" or "error")
func RecordTaskRun(task, result string, duration time.Duration) {
	taskRunsTotal.WithLabelValues(task, result).Inc()
	taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// SetQueueDue sets the due entry count from the latest batch fetch
func SetQueueDue(count int) {
	queueDue.Set(float64(count))
}

// RecordSimulatedSend records a mock-mode send
func RecordSimulatedSend(channel string) {
	gatewaySimulated.WithLabelValues(channel).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
