package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(submissionsTotal, transitionsTotal, pollTicksTotal, pollLatency)
}

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodocx_submissions_total",
			Help: "Conversion submissions by result.",
		},
		[]string{"result"}, // 'accepted', 'rejected'
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodocx_job_transitions_total",
			Help: "Client job state transitions by target state.",
		},
		[]string{"state"},
	)

	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodocx_poll_ticks_total",
			Help: "Status poll ticks by outcome.",
		},
		[]string{"outcome"}, // 'delivered', 'skipped', 'dropped', 'transport_error', 'parent_stopped'
	)

	pollLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repodocx_poll_latency_seconds",
			Help:    "Latency of status retrieval calls.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func IncSubmission(result string) {
	submissionsTotal.WithLabelValues(norm(result)).Inc()
}

func IncTransition(state string) {
	transitionsTotal.WithLabelValues(norm(state)).Inc()
}

func IncPollTick(outcome string) {
	pollTicksTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObservePollLatency(d time.Duration) {
	pollLatency.Observe(d.Seconds())
}
