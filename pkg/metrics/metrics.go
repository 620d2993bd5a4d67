package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity metrics
	GridsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vinci4d_grids_total",
			Help: "Total number of grids by status",
		},
		[]string{"status"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vinci4d_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	FunctionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vinci4d_functions_total",
			Help: "Total number of functions by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vinci4d_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	GridUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vinci4d_grid_utilization_percent",
			Help: "Percentage of busy workers per grid",
		},
		[]string{"grid"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vinci4d_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinci4d_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vinci4d_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	ClaimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vinci4d_claim_latency_seconds",
			Help:    "Time taken to resolve a task claim in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinci4d_claims_total",
			Help: "Total number of claim attempts by result",
		},
		[]string{"result"}, // assigned, no_task, exhausted, error
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinci4d_reports_total",
			Help: "Total number of task reports by outcome",
		},
		[]string{"outcome"}, // completed, failed, duplicate
	)

	TasksTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vinci4d_tasks_timed_out_total",
			Help: "Total number of running tasks failed by the timeout sweep",
		},
	)

	WorkersDemoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vinci4d_workers_demoted_total",
			Help: "Total number of workers taken offline for stale heartbeats",
		},
	)

	// Deploy metrics
	DeployRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vinci4d_deploy_retries_total",
			Help: "Total number of retried deploy operations",
		},
	)

	DeployDeadLetters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vinci4d_deploy_dead_letters_total",
			Help: "Total number of deploy operations abandoned after retries",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(GridsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(FunctionsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(GridUtilization)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ClaimLatency)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(TasksTimedOut)
	prometheus.MustRegister(WorkersDemoted)
	prometheus.MustRegister(DeployRetries)
	prometheus.MustRegister(DeployDeadLetters)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on the given histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
