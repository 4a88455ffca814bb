package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	countdownTicksTotal  *prometheus.CounterVec
	activeCountdowns     prometheus.Gauge
	completionsTotal     *prometheus.CounterVec
	gradingRunsTotal     *prometheus.CounterVec
	regradeQueueOpsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exam_http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		countdownTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_countdown_ticks_total",
			Help: "Per-session countdown tick outcomes.",
		}, []string{"outcome"})

		activeCountdowns = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exam_active_countdowns",
			Help: "Number of active countdowns seen by the last tick.",
		})

		completionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_completions_total",
			Help: "Session completion attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_grading_runs_total",
			Help: "Grading passes by resulting status.",
		}, []string{"status"})

		regradeQueueOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_regrade_queue_ops_total",
			Help: "Regrade queue operations.",
		}, []string{"op"})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, countdownTicksTotal,
			activeCountdowns, completionsTotal, gradingRunsTotal, regradeQueueOpsTotal)
	})
}

// HTTPRequests exposes the counter for HTTP requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for HTTP requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// CountdownTicks exposes the per-key tick outcome counter.
func CountdownTicks() *prometheus.CounterVec {
	RegisterMetrics()
	return countdownTicksTotal
}

// ActiveCountdowns exposes the active countdown gauge.
func ActiveCountdowns() prometheus.Gauge {
	RegisterMetrics()
	return activeCountdowns
}

// Completions exposes the completion counter.
func Completions() *prometheus.CounterVec {
	RegisterMetrics()
	return completionsTotal
}

// GradingRuns exposes the grading pass counter.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// RegradeQueueOps exposes the regrade queue counter.
func RegradeQueueOps() *prometheus.CounterVec {
	RegisterMetrics()
	return regradeQueueOpsTotal
}
