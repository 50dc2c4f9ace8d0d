package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream platform requests by platform, channel and status",
		},
		[]string{"platform", "channel", "status"},
	)
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream platform request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform", "channel"},
	)

	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_tasks_enqueued_total",
			Help: "Total number of fetch tasks enqueued",
		},
		[]string{"platform", "action"},
	)
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_tasks_processing",
			Help: "Number of fetch tasks currently processing",
		},
		[]string{"platform", "action"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_tasks_completed_total",
			Help: "Total number of fetch tasks completed",
		},
		[]string{"platform", "action"},
	)
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_tasks_failed_total",
			Help: "Total number of fetch tasks failed",
		},
		[]string{"platform", "action"},
	)

	LimiterWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate-limiter grant",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"bucket"},
	)

	// Candidate yield distribution per completed similar/search task.
	CandidatesReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_candidates_returned",
			Help:    "Distribution of candidate counts in completed task results",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"platform", "action"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(LimiterWaitDuration)
	prometheus.MustRegister(CandidatesReturned)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveUpstream records one upstream platform call. A zero status means
// the request never produced a response (transport error or timeout).
func ObserveUpstream(platform, channel string, status int, dur time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(platform, channel, label).Inc()
	UpstreamRequestDuration.WithLabelValues(platform, channel).Observe(dur.Seconds())
}

// ObserveLimiterWait records how long an upstream call waited for its grant.
func ObserveLimiterWait(bucket string, dur time.Duration) {
	LimiterWaitDuration.WithLabelValues(bucket).Observe(dur.Seconds())
}

func EnqueueTask(platform, action string) {
	TasksEnqueuedTotal.WithLabelValues(platform, action).Inc()
}

func StartProcessingTask(platform, action string) {
	TasksProcessing.WithLabelValues(platform, action).Inc()
}

func CompleteTask(platform, action string, candidates int) {
	TasksProcessing.WithLabelValues(platform, action).Dec()
	TasksCompletedTotal.WithLabelValues(platform, action).Inc()
	CandidatesReturned.WithLabelValues(platform, action).Observe(float64(candidates))
}

func FailTask(platform, action string) {
	TasksProcessing.WithLabelValues(platform, action).Dec()
	TasksFailedTotal.WithLabelValues(platform, action).Inc()
}
