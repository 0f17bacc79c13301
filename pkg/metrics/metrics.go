package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsByState is the live count of jobs in each lifecycle state (spec
	// §4.1), labeled by body_type so a stuck heart.startup tree shows up
	// distinctly from a stuck register_request one.
	JobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacemaker_jobs_by_state",
			Help: "Current number of jobs by state and body type",
		},
		[]string{"state", "body_type"},
	)

	// DispatchLatency times how long a Dispatch call takes to hand a job to
	// its target (local goroutine spawn or remote Send), per spec §4.4.
	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacemaker_dispatch_latency_seconds",
			Help:    "Time taken to dispatch a runnable job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"body_type"},
	)

	// FrontierSize is the size of the Runnable Selector's frontier on the
	// most recent sweep (spec §4.3).
	FrontierSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacemaker_frontier_size",
			Help: "Number of runnable jobs found on the last selector sweep",
		},
	)

	// AbortsTotal counts operator-triggered aborts and node-loss failures
	// (spec §4.9), split by reason ("operator", "node_lost").
	AbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacemaker_aborts_total",
			Help: "Total number of job aborts by reason",
		},
		[]string{"reason"},
	)

	// NodeUp reports the liveness of every known node (1 active, 0
	// inactive), labeled by role, for the node-loss sweep in pkg/abort.
	NodeUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacemaker_node_up",
			Help: "Whether a node is currently considered active (1) or lost (0)",
		},
		[]string{"node", "role"},
	)

	// DispatchRetries counts NodeUnreachable retry attempts (spec §4.4).
	DispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pacemaker_dispatch_retries_total",
			Help: "Total number of dispatch retries due to node unreachability",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsByState)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(FrontierSize)
	prometheus.MustRegister(AbortsTotal)
	prometheus.MustRegister(NodeUp)
	prometheus.MustRegister(DispatchRetries)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
