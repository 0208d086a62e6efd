package dispatch

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/loadrunner/internal/platform/k8s"
)

// RenderManifest renders job as a kubectl-compatible YAML document.
func RenderManifest(job k8s.Job) ([]byte, error) {
	job.APIVersion = "batch/v1"
	job.Kind = "Job"
	job.Status = nil

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(job); err != nil {
		return nil, fmt.Errorf("encode job manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode job manifest: %w", err)
	}
	return buf.Bytes(), nil
}
