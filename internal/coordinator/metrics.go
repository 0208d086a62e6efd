package coordinator

import "github.com/prometheus/client_golang/prometheus"

const (
	startAccepted       = "accepted"
	startInvalid        = "invalid"
	startWorkspaceError = "workspace_error"
)

var (
	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadrunner_runs_started_total",
			Help: "Start requests by outcome.",
		},
		[]string{"outcome"},
	)

	runsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadrunner_runs_dispatched_total",
			Help: "Resolved worker submissions by result.",
		},
		[]string{"result"},
	)

	runIDCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loadrunner_run_id_collisions_total",
			Help: "Run ids skipped because the workspace already existed.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsStarted, runsDispatched, runIDCollisions)
}
