package dispatch

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSubmitted = "submitted"
	resultFailed    = "failed"
	resultSaturated = "saturated"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadrunner_dispatch_submissions_total",
			Help: "Worker submissions by executor and result.",
		},
		[]string{"executor", "result"},
	)

	submissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loadrunner_dispatch_submission_duration_seconds",
			Help:    "Time spent in a single executor submission.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"executor"},
	)

	submissionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadrunner_dispatch_inflight",
			Help: "Submissions currently talking to the executor.",
		},
	)

	submissionsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadrunner_dispatch_queued",
			Help: "Submissions accepted by the dispatcher and not yet finished.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(submissionDuration)
	prometheus.MustRegister(submissionsInFlight)
	prometheus.MustRegister(submissionsQueued)
}
