package worker

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/env"
)

const (
	defaultResultsRoot   = "/var/gatling/results"
	defaultScenariosPath = "/etc/gatling/scenarios"
	defaultEngineBin     = "gatling.sh"
)

var defaultEngineArgs = []string{"-sf", "{scenarios}", "-s", "{scenario}", "-rf", "{results}"}

type Config struct {
	RunID         string
	Scenario      string
	ResultsPath   string
	ScenariosPath string
	Bucket        string
	Region        string

	EngineBin  string
	EngineArgs []string

	UploadConcurrency int
}

func ConfigFromEnv() (Config, error) {
	runID, err := env.Required("RUN_ID")
	if err != nil {
		return Config{}, err
	}
	scenario, err := env.Required("SCENARIO")
	if err != nil {
		return Config{}, err
	}
	concurrency, err := env.Int("UPLOAD_CONCURRENCY", 4)
	if err != nil {
		return Config{}, err
	}
	resultsPath := strings.TrimSpace(env.String("RESULTS_PATH", ""))
	if resultsPath == "" {
		resultsPath = filepath.Join(defaultResultsRoot, runID)
	}
	cfg := Config{
		RunID:             runID,
		Scenario:          scenario,
		ResultsPath:       resultsPath,
		ScenariosPath:     strings.TrimSpace(env.String("SCENARIOS_PATH", defaultScenariosPath)),
		Bucket:            strings.TrimSpace(env.String("S3_BUCKET", "")),
		Region:            strings.TrimSpace(env.String("AWS_REGION", "us-east-1")),
		EngineBin:         strings.TrimSpace(env.String("ENGINE_BIN", defaultEngineBin)),
		EngineArgs:        env.List("ENGINE_ARGS", defaultEngineArgs),
		UploadConcurrency: concurrency,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := domain.ValidateRunID(c.RunID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Scenario) == "" {
		return errors.New("SCENARIO is required")
	}
	if strings.TrimSpace(c.ResultsPath) == "" {
		return errors.New("RESULTS_PATH is required")
	}
	if strings.TrimSpace(c.EngineBin) == "" {
		return errors.New("ENGINE_BIN is required")
	}
	if c.UploadConcurrency < 1 {
		return errors.New("UPLOAD_CONCURRENCY must be >= 1")
	}
	return nil
}

// UploadEnabled reports whether a bucket was configured.
func (c Config) UploadEnabled() bool {
	return c.Bucket != ""
}

// Argv expands the engine argument template. Placeholders are substituted
// inside each field; fields are never re-split, so values cannot add arguments.
func (c Config) Argv() []string {
	r := strings.NewReplacer(
		"{scenario}", c.Scenario,
		"{results}", c.ResultsPath,
		"{scenarios}", c.ScenariosPath,
		"{run_id}", c.RunID,
	)
	out := make([]string, 0, len(c.EngineArgs))
	for _, arg := range c.EngineArgs {
		out = append(out, r.Replace(arg))
	}
	return out
}
