package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlock_nodes_total",
			Help: "Total number of known nodes by lifecycle status",
		},
		[]string{"status"},
	)

	RendezvousRound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlock_rendezvous_round",
			Help: "Current rendezvous round number by flavour",
		},
		[]string{"flavour"},
	)

	RendezvousWaiting = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlock_rendezvous_waiting_nodes",
			Help: "Nodes currently waiting in a rendezvous round by flavour",
		},
		[]string{"flavour"},
	)

	TasksPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlock_tasks_pending",
			Help: "Pending shard count by dataset",
		},
		[]string{"dataset"},
	)

	TasksOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlock_tasks_outstanding",
			Help: "Outstanding (assigned, unacknowledged) shard count by dataset",
		},
		[]string{"dataset"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlock_tasks_completed_total",
			Help: "Completed shard count by dataset",
		},
		[]string{"dataset"},
	)

	TasksReassigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlock_tasks_reassigned_total",
			Help: "Shards requeued for reassignment by dataset",
		},
		[]string{"dataset"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlock_heartbeats_total",
			Help: "Total number of heartbeats received",
		},
	)

	DiagnosisActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlock_diagnosis_actions_total",
			Help: "Diagnosis actions emitted by kind",
		},
		[]string{"kind"},
	)

	AutoScaleTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlock_autoscale_triggered_total",
			Help: "Number of times the speed aggregator latched an autoscale trigger",
		},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlock_request_duration_seconds",
			Help:    "Multiplexer request handling duration in seconds by operation and payload kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "kind"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlock_requests_total",
			Help: "Total multiplexer requests by operation, kind and outcome",
		},
		[]string{"operation", "kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		RendezvousRound,
		RendezvousWaiting,
		TasksPending,
		TasksOutstanding,
		TasksCompleted,
		TasksReassigned,
		HeartbeatsTotal,
		DiagnosisActionsTotal,
		AutoScaleTriggeredTotal,
		RequestDuration,
		RequestsTotal,
	)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
