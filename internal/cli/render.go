package cli

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/env"
)

func newRenderJobCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "render-job RUN_ID SCENARIO",
		Short: "Print the Job manifest the coordinator would submit for a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, scenario := args[0], args[1]
			if err := domain.ValidateRunID(runID); err != nil {
				return configError(err)
			}
			k8sCfg, err := dispatch.KubernetesConfigFromEnv()
			if err != nil {
				return configError(fmt.Errorf("kubernetes config: %w", err))
			}
			if ns := strings.TrimSpace(namespace); ns != "" {
				k8sCfg.Namespace = ns
			}
			if k8sCfg.Namespace == "" {
				k8sCfg.Namespace = "default"
			}

			resultsRoot := env.String("WORKER_RESULTS_PATH", env.String("RESULTS_PATH", "/var/gatling/results"))
			job := dispatch.BuildJob(k8sCfg, dispatch.JobSpec{
				RunID:       runID,
				Scenario:    scenario,
				ResultsPath: path.Join(resultsRoot, runID),
				Bucket:      strings.TrimSpace(env.String("S3_BUCKET", "")),
				Region:      strings.TrimSpace(env.String("AWS_REGION", "us-east-1")),
			})
			out, err := dispatch.RenderManifest(job)
			if err != nil {
				return runtimeError(err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace for the Job (defaults to K8S_NAMESPACE)")
	return cmd
}
