package coordinator

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/loadrunner/internal/platform/env"
)

type Config struct {
	// ResultsPath is the results root as mounted in the coordinator.
	ResultsPath string
	// WorkerResultsPath is the same root as mounted in the worker.
	WorkerResultsPath string
	ScenariosPath     string
	Bucket            string
	Region            string

	RequireKnownScenario bool
	// DispatchWait bounds how long Start waits to report a rejected
	// submission. Zero returns before the submission resolves.
	DispatchWait time.Duration

	ReportPresign    bool
	ReportPresignTTL time.Duration
}

func ConfigFromEnv() (Config, error) {
	requireKnown, err := env.Bool("REQUIRE_KNOWN_SCENARIO", false)
	if err != nil {
		return Config{}, err
	}
	dispatchWait, err := env.Duration("DISPATCH_WAIT", 0)
	if err != nil {
		return Config{}, err
	}
	presign, err := env.Bool("REPORT_PRESIGN", false)
	if err != nil {
		return Config{}, err
	}
	presignTTL, err := env.Duration("REPORT_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}

	resultsPath := strings.TrimSpace(env.String("RESULTS_PATH", "/var/gatling/results"))
	cfg := Config{
		ResultsPath:          resultsPath,
		WorkerResultsPath:    strings.TrimSpace(env.String("WORKER_RESULTS_PATH", resultsPath)),
		ScenariosPath:        strings.TrimSpace(env.String("SCENARIOS_PATH", "/etc/gatling/scenarios")),
		Bucket:               strings.TrimSpace(env.String("S3_BUCKET", "")),
		Region:               strings.TrimSpace(env.String("AWS_REGION", "us-east-1")),
		RequireKnownScenario: requireKnown,
		DispatchWait:         dispatchWait,
		ReportPresign:        presign,
		ReportPresignTTL:     presignTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ResultsPath == "" {
		return errors.New("RESULTS_PATH is required")
	}
	if c.WorkerResultsPath == "" {
		return errors.New("WORKER_RESULTS_PATH is required")
	}
	if c.DispatchWait < 0 {
		return errors.New("DISPATCH_WAIT must be >= 0")
	}
	if c.ReportPresign && c.ReportPresignTTL <= 0 {
		return errors.New("REPORT_PRESIGN_TTL must be positive")
	}
	if c.ReportPresign && c.Bucket == "" {
		return errors.New("REPORT_PRESIGN requires S3_BUCKET")
	}
	return nil
}
