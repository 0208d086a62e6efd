package dispatch

import (
	"context"
	"errors"
	"strings"
)

// Worker environment contract.
const (
	EnvMode          = "MODE"
	EnvRunID         = "RUN_ID"
	EnvScenario      = "SCENARIO"
	EnvResultsPath   = "RESULTS_PATH"
	EnvBucket        = "S3_BUCKET"
	EnvRegion        = "AWS_REGION"
	EnvScenariosPath = "SCENARIOS_PATH"

	WorkerMode = "worker"
)

// JobSpec carries everything a worker needs; it is passed as process inputs.
type JobSpec struct {
	RunID       string
	Scenario    string
	ResultsPath string
	Bucket      string
	Region      string
}

func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(s.Scenario) == "" {
		return errors.New("scenario is required")
	}
	if strings.TrimSpace(s.ResultsPath) == "" {
		return errors.New("results path is required")
	}
	return nil
}

// Env returns the worker inputs as NAME=value pairs in a stable order.
func (s JobSpec) Env(scenariosPath string) []string {
	out := []string{
		EnvMode + "=" + WorkerMode,
		EnvRunID + "=" + s.RunID,
		EnvScenario + "=" + s.Scenario,
		EnvResultsPath + "=" + s.ResultsPath,
		EnvBucket + "=" + s.Bucket,
	}
	if s.Region != "" {
		out = append(out, EnvRegion+"="+s.Region)
	}
	if scenariosPath != "" {
		out = append(out, EnvScenariosPath+"="+scenariosPath)
	}
	return out
}

// Executor submits one worker per run.
type Executor interface {
	Kind() string
	Submit(ctx context.Context, spec JobSpec) error
	Inspect(ctx context.Context, runID string) (Observation, error)
}

// Observation is a best-effort view from the execution platform. It is
// informational only; run completion is decided by the workspace.
type Observation struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	ObservationPending   = "pending"
	ObservationRunning   = "running"
	ObservationSucceeded = "succeeded"
	ObservationFailed    = "failed"
	ObservationUnknown   = "unknown"
)
